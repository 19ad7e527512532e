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

func TestOllamaChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range []string{
			`{"model":"llava","message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"model":"llava","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llava","message":{"role":"assistant","content":""},"done":true}`,
		} {
			_, _ = io.WriteString(w, line+"\n")
		}
	}))
	defer srv.Close()

	temperature := float32(0.5)
	o, err := services.NewOllama(services.OllamaConfig{
		Host:   srv.URL,
		Model:  "llava",
		Params: services.LLMParameters{Temperature: &temperature, MaxTokens: 100},
	}, discardLogger())
	require.NoError(t, err)

	turns := []models.Turn{
		models.TextTurn(models.RoleSystem, "be brief"),
		{
			Role: models.RoleUser,
			Parts: []models.Part{
				{Type: models.PartTypeText, Text: "what is this?"},
				{Type: models.PartTypeImage, MediaType: "image/png", Data: "cG5n"},
			},
		},
	}

	var fragments []string
	for fragment, err := range o.Chat(context.Background(), turns) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"Hel", "lo"}, fragments)

	assert.Equal(t, "llava", gotBody["model"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user, ok := msgs[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "what is this?", user["content"])
	assert.Equal(t, []any{"cG5n"}, user["images"])

	options, ok := gotBody["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.5, options["temperature"], 1e-6)
	assert.EqualValues(t, 100, options["num_predict"])
}

func TestOllamaChatStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for _, c := range []string{"a", "b", "c"} {
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"`+c+`"},"done":false}`+"\n")
		}
	}))
	defer srv.Close()

	o, err := services.NewOllama(services.OllamaConfig{Host: srv.URL, Model: "llava"}, discardLogger())
	require.NoError(t, err)

	var sb strings.Builder
	for fragment, err := range o.Chat(context.Background(), []models.Turn{models.TextTurn(models.RoleUser, "Hi")}) {
		require.NoError(t, err)
		sb.WriteString(fragment)
		break
	}
	assert.Equal(t, "a", sb.String())
}

func TestOllamaChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"llava\" not found"}`)
	}))
	defer srv.Close()

	o, err := services.NewOllama(services.OllamaConfig{Host: srv.URL, Model: "llava"}, discardLogger())
	require.NoError(t, err)

	var errs []error
	for _, err := range o.Chat(context.Background(), []models.Turn{models.TextTurn(models.RoleUser, "Hi")}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "not found")
}

func TestNewOllamaInvalidHost(t *testing.T) {
	_, err := services.NewOllama(services.OllamaConfig{Host: "http://[::1", Model: "llava"}, discardLogger())
	assert.Error(t, err)
}
