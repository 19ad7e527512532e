package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides anthropicAPIEndpoint when not empty.
	BaseURL string
	Model   string
	Params  LLMParameters

	HTTPClient *http.Client
}

type anthropicChatRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicAPIVersion  = "2023-06-01"

	// anthropicDefaultMaxTokens is used when no limit is configured, the API requires one.
	anthropicDefaultMaxTokens = 1024
)

// NewAnthropic creates a new Anthropic instance from the given configuration.
func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIEndpoint
	}
	maxTokens := cfg.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return Anthropic{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
		params:    cfg.Params,
		client:    client,
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// extractSystemPrompt joins the system turns into the top-level system prompt the API expects and
// returns the remaining turns.
func extractSystemPrompt(turns []models.Turn) (string, []models.Turn) {
	var system []string
	rest := make([]models.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			system = append(system, t.Text())
			continue
		}
		rest = append(rest, t)
	}
	return strings.Join(system, "\n\n"), rest
}

func anthropicMessages(turns []models.Turn) []anthropicMessage {
	msgs := make([]anthropicMessage, len(turns))
	for i, t := range turns {
		blocks := make([]anthropicContentBlock, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch p.Type {
			case models.PartTypeText:
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
			case models.PartTypeImage:
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: p.MediaType,
						Data:      p.Data,
					},
				})
			}
		}
		msgs[i] = anthropicMessage{Role: string(t.Role), Content: blocks}
	}
	return msgs
}

// Chat streams responses from the Anthropic API for a given sequence of turns. System turns are sent
// as the system prompt. The context can be used to cancel ongoing requests.
func (a Anthropic) Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, rest := extractSystemPrompt(turns)

		reqBody := anthropicChatRequest{
			Model:         a.model,
			Messages:      anthropicMessages(rest),
			Stream:        true,
			System:        system,
			MaxTokens:     a.maxTokens,
			Temperature:   a.params.Temperature,
			TopP:          a.params.TopP,
			StopSequences: a.params.Stop,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if !isSuccess(resp.StatusCode) {
			yield("", statusError(resp))
			return
		}

		for ev, err := range sse.Read(resp.Body, readConfig) {
			if err != nil {
				// The server closed the stream in the middle of an event, the incomplete event is dropped.
				if errors.Is(err, sse.ErrUnexpectedEOF) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					a.logger.Warn("Skipping malformed event",
						slog.String("event", ev.Data),
						slog.String(errLoggerKey, err.Error()))
					continue
				}
				if res.Delta.Text == "" {
					continue
				}
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				a.logger.Debug("Ignoring event", slog.String("type", ev.Type))
			}
		}
	}
}
