package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/OmChillure/clinic-chat/internal/services"
)

// message is the view of a transcript message.
type message struct {
	ID          string
	Role        string
	Content     template.HTML
	Timestamp   string
	Attachments []models.Attachment

	StreamingState string
}

// maxUploadSize bounds the multipart body of a turn or a transcription.
const maxUploadSize = 32 << 20

// HandleSubmit starts a new turn. It accepts a "message" form field and optional "attachments" files,
// and renders the user message and the assistant placeholder. The reply is pushed to the browser
// through SSE as it streams.
//
// It answers 400 when the turn has neither text nor attachments, and 409 while another turn is
// streaming.
func (m Main) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		m.logger.Error("Failed to parse form", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	uploads, err := formUploads(r.MultipartForm)
	if err != nil {
		m.logger.Error("Failed to read attachments", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid attachments", http.StatusBadRequest)
		return
	}

	// The turn outlives the request.
	turn, err := m.client.Submit(context.Background(), r.FormValue("message"), uploads)
	switch {
	case errors.Is(err, chat.ErrEmptyTurn):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrTurnInProgress):
		http.Error(w, "A reply is still being generated", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to submit turn", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.logger.Debug("Turn submitted",
		slog.String("userID", turn.UserID),
		slog.String("assistantID", turn.AssistantID),
		slog.Int("attachments", len(uploads)))

	// The transcript may already hold reply fragments, render what was submitted.
	for _, id := range []string{turn.UserID, turn.AssistantID} {
		msg, ok := m.message(id)
		if !ok {
			// Cancelled in between.
			continue
		}
		if err := m.templates.ExecuteTemplate(w, "message", m.messageView(msg)); err != nil {
			m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// HandleCancel stops the reply being generated and removes it from the transcript.
func (m Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.client.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) message(id string) (models.Message, bool) {
	for _, msg := range m.client.Messages() {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (m Main) messageView(msg models.Message) message {
	var content template.HTML
	switch {
	case msg.Role == models.RoleAssistant && msg.StreamingState != models.StreamingStateFailed:
		content = m.renderMarkdown(msg.Text)
	default:
		content = template.HTML(template.HTMLEscapeString(msg.Text))
	}
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        content,
		Timestamp:      msg.Timestamp,
		Attachments:    msg.Attachments,
		StreamingState: string(msg.StreamingState),
	}
}

func (m Main) renderMessage(msg models.Message) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", m.messageView(msg)); err != nil {
		return "", fmt.Errorf("failed to execute message template: %w", err)
	}
	return sb.String(), nil
}

// formUploads reads the attached files. Their content is copied since the multipart files are removed
// once the request ends, before the turn is serialized.
func formUploads(form *multipart.Form) ([]chat.Upload, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File["attachments"]
	uploads := make([]chat.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readFileHeader(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		mediaType := fh.Header.Get("Content-Type")
		if mediaType == "" || mediaType == "application/octet-stream" {
			mediaType = http.DetectContentType(data)
		}
		uploads = append(uploads, chat.BytesUpload(mediaType, fh.Filename, data))
	}
	return uploads, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// HandleTranscribe converts the recorded "audio" file to text and answers {"text": ...}.
func (m Main) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.transcriber == nil {
		http.Error(w, "Transcription is not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, _, err := r.FormFile("audio")
	if err != nil {
		m.logger.Error("Failed to read audio", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Audio is required", http.StatusBadRequest)
		return
	}
	defer f.Close()

	text, err := m.transcriber.Transcribe(r.Context(), f)
	if err != nil {
		m.logger.Error("Failed to transcribe audio", slog.String(errLoggerKey, err.Error()))
		if errors.Is(err, services.ErrNoTranscript) {
			http.Error(w, "No speech recognized", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
