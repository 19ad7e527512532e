package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	clinicchat "github.com/OmChillure/clinic-chat"
	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, r io.Reader) (string, error)
}

// Main handles the core functionality of the web interface: it owns the chat client, pushes every
// transcript change to the connected browsers over server-sent events and renders the HTML views.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	client      *chat.Client
	transcriber Transcriber

	logger *slog.Logger
}

type homePageData struct {
	Messages []message
	Active   bool
	CanTalk  bool
}

// messageEvent is the payload of the SSE events describing a transcript change.
type messageEvent struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	State string `json:"state"`
	HTML  string `json:"html,omitempty"`
}

const errLoggerKey = "err"

// NewMain creates a new Main instance streaming replies from llm. The transcriber is optional, without
// one the transcription endpoint answers 503. opts.Observer is replaced by the SSE publisher.
func NewMain(llm chat.LLM, opts chat.Options, transcriber Transcriber, logger *slog.Logger) (Main, error) {
	// Templates are split between layout, pages, and partial views.
	tmpl, err := template.ParseFS(
		clinicchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates:   tmpl,
		markdown:    newMarkdown(),
		transcriber: transcriber,
		logger:      logger.With(slog.String("module", "main")),
	}

	opts.Observer = m.publish
	if opts.Logger == nil {
		opts.Logger = logger
	}
	m.client = chat.NewClient(llm, opts)

	return m, nil
}

// HandleHome renders the page with the current transcript.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msgs := m.client.Messages()
	data := homePageData{
		Messages: make([]message, len(msgs)),
		Active:   m.client.Active(),
		CanTalk:  m.transcriber != nil,
	}
	for i, msg := range msgs {
		data.Messages[i] = m.messageView(msg)
	}

	if err := m.templates.ExecuteTemplate(w, "home", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE streams transcript changes to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// publish is the chat client observer. Each transcript change becomes one SSE event whose type is the
// change kind.
func (m Main) publish(e chat.Event) {
	data, err := m.eventData(e)
	if err != nil {
		m.logger.Error("Failed to render event",
			slog.String("messageID", e.Message.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: sse.Type(string(e.Type))}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("type", string(e.Type)),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) eventData(e chat.Event) (string, error) {
	ev := messageEvent{
		ID:    e.Message.ID,
		Role:  string(e.Message.Role),
		State: string(e.Message.StreamingState),
	}
	if e.Type != chat.EventRemoved {
		html, err := m.renderMessage(e.Message)
		if err != nil {
			return "", err
		}
		ev.HTML = html
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Shutdown cancels the active turn and gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.client.Cancel()

	e := &sse.Message{Type: sse.Type("close")}
	// The SSE format requires data on every event.
	e.AppendData("bye")

	// Shutting down anyway.
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// Messages returns a snapshot of the transcript.
func (m Main) Messages() []models.Message {
	return m.client.Messages()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
