package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	model  string
	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// OllamaConfig configures an Ollama provider.
type OllamaConfig struct {
	// Host is the URL of the Ollama server.
	Host   string
	Model  string
	Params LLMParameters

	HTTPClient *http.Client
}

var errStopped = errors.New("stopped by consumer")

// NewOllama creates a new Ollama instance. It returns an error if the host is not a valid URL.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", cfg.Host, err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return Ollama{
		model:  cfg.Model,
		params: cfg.Params,
		client: api.NewClient(u, client),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. Images are sent as
// raw bytes alongside the text of their turn.
func (o Ollama) Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs, err := ollamaMessages(turns)
		if err != nil {
			yield("", fmt.Errorf("error creating ollama messages: %w", err))
			return
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Options:  o.options(),
		}

		o.logger.Debug("Request", slog.String("model", o.model), slog.Int("turns", len(turns)))

		err = o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				return errStopped
			}
			return nil
		})
		if err == nil || errors.Is(err, errStopped) {
			return
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		yield("", fmt.Errorf("error sending request: %w", err))
	}
}

func (o Ollama) options() map[string]any {
	opts := make(map[string]any)
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens > 0 {
		opts["num_predict"] = o.params.MaxTokens
	}
	if len(o.params.Stop) > 0 {
		opts["stop"] = o.params.Stop
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func ollamaMessages(turns []models.Turn) ([]api.Message, error) {
	msgs := make([]api.Message, len(turns))
	for i, t := range turns {
		msgs[i] = api.Message{
			Role:    string(t.Role),
			Content: t.Text(),
		}
		for _, img := range t.Images() {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, fmt.Errorf("error decoding image: %w", err)
			}
			msgs[i].Images = append(msgs[i].Images, api.ImageData(data))
		}
	}
	return msgs, nil
}
