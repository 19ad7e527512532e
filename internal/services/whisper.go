package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Whisper transcribes recorded audio through a hosted speech recognition endpoint accepting base64
// encoded audio, such as a Hugging Face inference endpoint serving a Whisper model.
type Whisper struct {
	endpoint string
	apiKey   string

	client *http.Client

	logger *slog.Logger
}

// WhisperConfig configures a Whisper transcriber.
type WhisperConfig struct {
	Endpoint string
	// APIKey is sent as a bearer token when not empty.
	APIKey string

	HTTPClient *http.Client
}

type whisperRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

type whisperResult struct {
	Text string `json:"text"`
}

// ErrNoTranscript is returned when the endpoint answered without any recognized text.
var ErrNoTranscript = errors.New("no transcript in response")

// NewWhisper creates a new Whisper instance from the given configuration.
func NewWhisper(cfg WhisperConfig, logger *slog.Logger) Whisper {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return Whisper{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		logger:   logger.With(slog.String("module", "whisper")),
	}
}

// Transcribe sends the audio read from r and returns the recognized text.
func (w Whisper) Transcribe(ctx context.Context, r io.Reader) (string, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	if _, err := io.Copy(enc, r); err != nil {
		return "", fmt.Errorf("error reading audio: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("error encoding audio: %w", err)
	}

	jsonBody, err := json.Marshal(whisperRequest{
		Inputs:     sb.String(),
		Parameters: map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	w.logger.Debug("Transcribing audio", slog.Int("size", len(jsonBody)))

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	text, err := transcriptText(body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoTranscript
	}
	return strings.TrimSpace(text), nil
}

// transcriptText accepts the response shapes used by speech recognition endpoints: an object with a
// text field, a list of such objects, or a bare string.
func transcriptText(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", ErrNoTranscript
	}

	switch body[0] {
	case '{':
		var res whisperResult
		if err := json.Unmarshal(body, &res); err != nil {
			return "", fmt.Errorf("error unmarshaling response: %w", err)
		}
		return res.Text, nil
	case '[':
		var res []whisperResult
		if err := json.Unmarshal(body, &res); err != nil {
			return "", fmt.Errorf("error unmarshaling response: %w", err)
		}
		if len(res) == 0 {
			return "", ErrNoTranscript
		}
		return res[0].Text, nil
	case '"':
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return "", fmt.Errorf("error unmarshaling response: %w", err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unexpected response: %.64s", body)
	}
}
