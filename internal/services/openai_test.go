package services_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/OmChillure/clinic-chat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, scenarioA)
	}))
	defer srv.Close()

	maxTokens := 512
	o := services.NewOpenAI(services.OpenAIConfig{
		APIKey:  "secret",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Params:  services.LLMParameters{MaxTokens: maxTokens},
	}, discardLogger())

	var sb strings.Builder
	for fragment, err := range o.Chat(context.Background(), []models.Turn{models.TextTurn(models.RoleUser, "Hi")}) {
		require.NoError(t, err)
		sb.WriteString(fragment)
	}

	assert.Equal(t, "Hello", sb.String())
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.Equal(t, true, gotBody["stream"])
	assert.EqualValues(t, maxTokens, gotBody["max_tokens"])
}

func TestOpenAIChatRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI(services.OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"}, discardLogger())

	var errs []error
	for fragment, err := range o.Chat(context.Background(), []models.Turn{models.TextTurn(models.RoleUser, "Hi")}) {
		assert.Empty(t, fragment)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "overloaded")
}
