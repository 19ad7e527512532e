package services

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// LLMParameters holds the generation settings shared by all providers. Nil pointers leave the
// provider default in place.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   int      `yaml:"maxTokens"`
	Stop        []string `yaml:"stop"`
}

// StatusError is returned when an upstream endpoint rejects a request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

const (
	errLoggerKey = "err"

	// maxErrorBody bounds how much of a rejected response is kept in a StatusError.
	maxErrorBody = 4096

	// maxEventSize bounds a single streamed event. A larger event fails the read.
	maxEventSize = 1 << 20
)

var readConfig = &sse.ReadConfig{MaxEventSize: maxEventSize}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
