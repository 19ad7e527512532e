package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func llmServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, helloStream)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func compatibleConfig(t *testing.T, baseURL string) string {
	t.Helper()
	return writeConfig(t, "llm:\n  provider: compatible\n  baseURL: "+baseURL+"\n")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "version flag", args: []string{"--version"}, want: "dev (commit: unknown)"},
		{name: "help flag", args: []string{"--help"}, want: "clinic-chat chat"},
		{name: "unknown command", args: []string{"diagnose"}, wantErr: true},
		{name: "missing config", args: []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "ask", "hi"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestAsk(t *testing.T) {
	srv, requests := llmServer(t, http.StatusOK)
	cfg := compatibleConfig(t, srv.URL)

	out, err := execute(t, "", "--config", cfg, "ask", "what", "is", "this?")
	require.NoError(t, err)
	assert.Contains(t, out, "assistant")
	assert.Contains(t, out, "Hello")
	assert.EqualValues(t, 1, requests.Load())
}

func TestAskWithImage(t *testing.T) {
	srv, _ := llmServer(t, http.StatusOK)
	cfg := compatibleConfig(t, srv.URL)

	img := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o600))

	out, err := execute(t, "", "--config", cfg, "ask", "--image", img)
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
}

func TestAskFailure(t *testing.T) {
	srv, _ := llmServer(t, http.StatusInternalServerError)
	cfg := compatibleConfig(t, srv.URL)

	out, err := execute(t, "", "--config", cfg, "ask", "hi")
	assert.True(t, errors.Is(err, errReplyFailed), "err = %v", err)
	assert.Contains(t, out, chat.ErrorText)
}

func TestAskRequiresQuestion(t *testing.T) {
	srv, requests := llmServer(t, http.StatusOK)
	cfg := compatibleConfig(t, srv.URL)

	_, err := execute(t, "", "--config", cfg, "ask")
	assert.Error(t, err)
	assert.Zero(t, requests.Load())
}

func TestChat(t *testing.T) {
	srv, requests := llmServer(t, http.StatusOK)
	cfg := compatibleConfig(t, srv.URL)

	out, err := execute(t, "Hi\n\n/attach /does/not/exist\nAgain\n/exit\nignored\n", "--config", cfg, "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Hello"))
	assert.Contains(t, out, "/does/not/exist")
	assert.EqualValues(t, 2, requests.Load())
}

func TestChatEndsAtEOF(t *testing.T) {
	srv, requests := llmServer(t, http.StatusOK)
	cfg := compatibleConfig(t, srv.URL)

	_, err := execute(t, "Hi\n", "--config", cfg, "chat")
	require.NoError(t, err)
	assert.EqualValues(t, 1, requests.Load())
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":"blood pressure one forty over ninety"}`)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "dictation.webm")
	require.NoError(t, os.WriteFile(audio, []byte("webm"), 0o600))

	cfg := writeConfig(t, "llm:\n  provider: compatible\n  baseURL: http://localhost/v1\nwhisper:\n  endpoint: "+srv.URL+"\n")

	out, err := execute(t, "", "--config", cfg, "transcribe", audio)
	require.NoError(t, err)
	assert.Equal(t, "blood pressure one forty over ninety\n", out)

	_, err = execute(t, "", "--config", cfg, "transcribe", filepath.Join(t.TempDir(), "missing.webm"))
	assert.Error(t, err)
}

func TestTranscribeNotConfigured(t *testing.T) {
	cfg := compatibleConfig(t, "http://localhost/v1")

	_, err := execute(t, "", "--config", cfg, "transcribe", "dictation.webm")
	assert.Error(t, err)
}
