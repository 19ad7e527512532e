package services_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OmChillure/clinic-chat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperTranscribe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "object", status: http.StatusOK, body: `{"text":" patient reports chest pain "}`, want: "patient reports chest pain"},
		{name: "list", status: http.StatusOK, body: `[{"text":"first"},{"text":"second"}]`, want: "first"},
		{name: "string", status: http.StatusOK, body: `"plain"`, want: "plain"},
		{name: "empty text", status: http.StatusOK, body: `{"text":""}`, wantErr: services.ErrNoTranscript},
		{name: "empty list", status: http.StatusOK, body: `[]`, wantErr: services.ErrNoTranscript},
		{name: "empty body", status: http.StatusOK, body: ``, wantErr: services.ErrNoTranscript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer hf_key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			wh := services.NewWhisper(services.WhisperConfig{Endpoint: srv.URL, APIKey: "hf_key"}, discardLogger())
			text, err := wh.Transcribe(context.Background(), strings.NewReader("wav"))

			assert.Equal(t, "d2F2", got["inputs"])
			assert.Equal(t, map[string]any{}, got["parameters"])

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestWhisperTranscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "endpoint paused", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wh := services.NewWhisper(services.WhisperConfig{Endpoint: srv.URL}, discardLogger())
	_, err := wh.Transcribe(context.Background(), strings.NewReader("wav"))

	var statusErr *services.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}
