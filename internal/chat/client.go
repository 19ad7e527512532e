// Package chat implements the streaming chat client: it turns a submitted user turn into one upstream
// request and grows the assistant reply in the transcript as fragments arrive.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OmChillure/clinic-chat/internal/models"
)

// LLM represents a large language model that streams its reply. It accepts a context and the
// role-tagged turns of the conversation, returning an iterator that yields text fragments in the order
// they were received. A non-nil error ends the iteration and fails the turn. Implementations should end
// the iteration without an error when ctx is cancelled.
type LLM interface {
	Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error]
}

// ErrorText replaces whatever the assistant message accumulated when its turn fails.
const ErrorText = "Sorry, an error occurred while generating the response. Please try again."

var (
	// ErrEmptyTurn is returned by Submit when the turn has neither text nor attachments.
	ErrEmptyTurn = errors.New("turn has neither text nor attachments")
	// ErrTurnInProgress is returned by Submit while another turn is still streaming.
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

const errLoggerKey = "err"

// Outcome is the terminal state of a turn.
type Outcome int

const (
	// OutcomeCompleted means the stream ended normally and the reply keeps the text it accumulated.
	OutcomeCompleted Outcome = iota + 1
	// OutcomeFailed means the request was rejected or the stream failed, the reply shows ErrorText.
	OutcomeFailed
	// OutcomeCancelled means the turn was cancelled and its reply removed from the transcript.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options configures a Client. The zero value is usable.
type Options struct {
	// SystemPrompt, when not empty, is sent as the first turn of every request.
	SystemPrompt string
	// ContextWindow is the estimated token budget for the turns sent upstream. Zero means
	// DefaultContextWindow, a negative value disables trimming.
	ContextWindow int
	// Observer is notified of every transcript change.
	Observer Observer
	Logger   *slog.Logger

	now func() time.Time
}

// Client is the streaming chat client. It owns the transcript and at most one active session.
// All methods are safe for concurrent use.
type Client struct {
	llm           LLM
	systemPrompt  string
	contextWindow int
	observer      Observer
	logger        *slog.Logger
	now           func() time.Time

	mu         sync.Mutex
	transcript Transcript
	active     *session

	// obsMu is taken before mu is released so observers see events in mutation order.
	obsMu sync.Mutex
}

// session is the state of one streaming request. It is owned by the Client from Submit until the
// turn reaches its outcome.
type session struct {
	messageID string
	cancel    context.CancelFunc

	done    chan struct{}
	outcome Outcome
}

// Turn is a handle on a submitted turn.
type Turn struct {
	UserID      string
	AssistantID string

	s *session
}

// Done returns a channel closed once the turn reached its outcome.
func (t *Turn) Done() <-chan struct{} {
	return t.s.done
}

// Wait blocks until the turn reached its outcome and returns it.
func (t *Turn) Wait() Outcome {
	<-t.s.done
	return t.s.outcome
}

// NewClient creates a Client streaming replies from llm.
func NewClient(llm LLM, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	window := opts.ContextWindow
	if window == 0 {
		window = DefaultContextWindow
	}
	return &Client{
		llm:           llm,
		systemPrompt:  opts.SystemPrompt,
		contextWindow: window,
		observer:      opts.Observer,
		logger:        logger.With(slog.String("module", "chat")),
		now:           now,
	}
}

// Submit appends the user message and an empty assistant placeholder to the transcript, then starts
// streaming the reply into the placeholder. The request is serialized from the transcript as it was
// before this turn, followed by the new user turn. Image uploads are embedded in the request, an upload
// that can't be read is dropped while the text is still sent.
//
// Submit returns ErrEmptyTurn if text is blank and there are no uploads, and ErrTurnInProgress if
// another turn is active. In both cases the transcript is left untouched. Failures of the request
// itself are never returned, they are reported in the transcript.
//
// The turn is cancelled if ctx ends before the reply completes.
func (c *Client) Submit(ctx context.Context, text string, uploads []Upload) (*Turn, error) {
	if strings.TrimSpace(text) == "" && len(uploads) == 0 {
		return nil, ErrEmptyTurn
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrTurnInProgress
	}

	history := c.transcript.Messages()

	now := c.now()
	um := models.NewMessage(models.RoleUser, text, now)
	um.Attachments = attachments(uploads)
	am := models.NewMessage(models.RoleAssistant, "", now)
	c.transcript.Append(um)
	c.transcript.Append(am)

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		messageID: am.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.active = s

	c.unlockAndNotify(
		Event{Type: EventAppended, Message: um},
		Event{Type: EventAppended, Message: am},
	)

	go c.run(sctx, s, history, text, uploads)

	return &Turn{UserID: um.ID, AssistantID: am.ID, s: s}, nil
}

// Cancel stops the active turn and removes its assistant message from the transcript, whatever it
// accumulated so far. It is a no-op if no turn is active.
func (c *Client) Cancel() {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.active = nil
	s.cancel()

	msg, ok := c.transcript.Remove(s.messageID)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.unlockAndNotify(Event{Type: EventRemoved, Message: msg})
}

// Active reports whether a turn is streaming.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Messages returns a snapshot of the transcript.
func (c *Client) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Messages()
}

func (c *Client) run(ctx context.Context, s *session, history []models.Message, text string, uploads []Upload) {
	turns := c.requestTurns(history, c.userTurn(text, uploads))

	var streamErr error
	for fragment, err := range c.llm.Chat(ctx, turns) {
		if err != nil {
			streamErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		if fragment == "" {
			continue
		}
		if !c.apply(s, fragment) {
			break
		}
	}

	c.finish(ctx, s, streamErr)
}

// apply appends a fragment to the session's message. It reports false once the session is no longer
// the active one, so a fragment decoded after cancellation is never applied.
func (c *Client) apply(s *session, fragment string) bool {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return false
	}
	msg, ok := c.transcript.AppendText(s.messageID, fragment)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.unlockAndNotify(Event{Type: EventUpdated, Message: msg, Delta: fragment})
	return true
}

func (c *Client) finish(ctx context.Context, s *session, streamErr error) {
	defer s.cancel()

	c.mu.Lock()
	if c.active != s {
		// Cancel already removed the message.
		c.mu.Unlock()
		s.end(OutcomeCancelled)
		return
	}
	c.active = nil

	var (
		msg     models.Message
		ok      bool
		evType  = EventUpdated
		outcome Outcome
	)
	switch {
	case ctx.Err() != nil:
		// The caller's context ended: an interrupted turn is void.
		msg, ok = c.transcript.Remove(s.messageID)
		evType = EventRemoved
		outcome = OutcomeCancelled
	case streamErr != nil:
		c.logger.Error("Failed to stream reply",
			slog.String("messageID", s.messageID),
			slog.String(errLoggerKey, streamErr.Error()))
		msg, ok = c.transcript.ReplaceText(s.messageID, ErrorText, models.StreamingStateFailed)
		outcome = OutcomeFailed
	default:
		msg, ok = c.transcript.SetState(s.messageID, models.StreamingStateEnded)
		outcome = OutcomeCompleted
	}

	if ok {
		c.unlockAndNotify(Event{Type: evType, Message: msg})
	} else {
		c.mu.Unlock()
	}

	c.logger.Debug("Turn ended",
		slog.String("messageID", s.messageID),
		slog.String("outcome", outcome.String()))
	s.end(outcome)
}

func (s *session) end(outcome Outcome) {
	s.outcome = outcome
	close(s.done)
}

// unlockAndNotify releases mu and delivers events to the observer. It must be called with mu held.
func (c *Client) unlockAndNotify(events ...Event) {
	c.obsMu.Lock()
	c.mu.Unlock()
	defer c.obsMu.Unlock()

	if c.observer == nil {
		return
	}
	for _, e := range events {
		c.observer(e)
	}
}
