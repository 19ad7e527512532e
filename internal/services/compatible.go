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
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmaxmax/go-sse"
)

// Compatible streams chat completions from any endpoint speaking the OpenAI chat completions protocol,
// such as a Text Generation Inference deployment, OpenRouter, or a backend proxying one of them.
//
// Unlike OpenAI, Compatible tolerates malformed events in the stream: they are logged and skipped.
type Compatible struct {
	baseURL string
	apiKey  string
	model   string
	headers map[string]string

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

// CompatibleConfig configures a Compatible provider.
type CompatibleConfig struct {
	// BaseURL is the API root, the request is sent to BaseURL + "/chat/completions".
	BaseURL string
	// APIKey is sent as a bearer token when not empty.
	APIKey string
	Model  string
	// Headers are added to every request.
	Headers map[string]string
	Params  LLMParameters

	HTTPClient *http.Client
}

// doneSentinel is the payload of the event that ends a stream.
const doneSentinel = "[DONE]"

// NewCompatible creates a new Compatible instance from the given configuration.
func NewCompatible(cfg CompatibleConfig, logger *slog.Logger) Compatible {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return Compatible{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		headers: cfg.Headers,
		params:  cfg.Params,
		client:  client,
		logger:  logger.With(slog.String("module", "compatible")),
	}
}

// Chat streams the reply for the given turns. The iterator yields one fragment per event, in the order
// the events were received, and stops on the "[DONE]" event or when the server closes the stream.
// Only complete events are handled: an event cut off by the end of the stream is dropped. Payload lines
// follow the SSE rules, so "data:" is accepted with or without the following space. Events are limited
// to maxEventSize bytes.
//
// A rejected request or a failing read ends the iteration with an error, a cancelled context ends it
// silently.
func (c Compatible) Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.doRequest(ctx, turns)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

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

			c.logger.Debug("Received event", slog.String("event", ev.Data))

			fragment, done := c.fragment(ev.Data)
			if done {
				return
			}
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// fragment extracts the text delta of an event payload. It reports done for the termination sentinel.
// Payloads that can't be decoded are logged and yield no fragment.
func (c Compatible) fragment(data string) (string, bool) {
	payload := strings.TrimSpace(data)
	if payload == doneSentinel {
		return "", true
	}
	if payload == "" {
		return "", false
	}

	var res goopenai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		c.logger.Warn("Skipping malformed event",
			slog.String("event", payload),
			slog.String(errLoggerKey, err.Error()))
		return "", false
	}
	if len(res.Choices) == 0 {
		return "", false
	}
	return res.Choices[0].Delta.Content, false
}

func (c Compatible) doRequest(ctx context.Context, turns []models.Turn) (*http.Response, error) {
	reqBody := goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  openAIMessages(turns),
		Stream:    true,
		MaxTokens: c.params.MaxTokens,
		Stop:      c.params.Stop,
	}
	if c.params.Temperature != nil {
		reqBody.Temperature = *c.params.Temperature
	}
	if c.params.TopP != nil {
		reqBody.TopP = *c.params.TopP
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	c.logger.Debug("Request Body", slog.Int("size", len(jsonBody)), slog.Int("turns", len(turns)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, errors.New("response has no body")
	}

	return resp, nil
}

// openAIMessages maps turns to the chat completions message format. A turn with images becomes a
// multi-part message, anything else a plain string message.
func openAIMessages(turns []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		images := t.Images()
		if len(images) == 0 {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    string(t.Role),
				Content: t.Text(),
			})
			continue
		}

		parts := make([]goopenai.ChatMessagePart, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch p.Type {
			case models.PartTypeText:
				parts = append(parts, goopenai.ChatMessagePart{
					Type: goopenai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case models.PartTypeImage:
				parts = append(parts, goopenai.ChatMessagePart{
					Type:     goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{URL: p.DataURL()},
				})
			}
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:         string(t.Role),
			MultiContent: parts,
		})
	}
	return msgs
}
