package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an individual entry within the chat transcript. It contains the participant's role,
// the accumulated text, the time the message was created and the metadata of any files sent with it.
type Message struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	// Timestamp is the display form of CreatedAt, formatted once when the message is created.
	Timestamp string

	Attachments []Attachment

	StreamingState StreamingState
}

// Attachment describes a file sent along with a user message.
type Attachment struct {
	MediaType string
	FileName  string
}

// Role represents the role of a message participant.
type Role string

// StreamingState tracks where a message is in its lifecycle. Only assistant messages go through
// the loading and streaming states.
type StreamingState string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents a message generated by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem is only used in upstream turns, it never appears in a transcript.
	RoleSystem Role = "system"

	StreamingStateLoading   StreamingState = "loading"
	StreamingStateStreaming StreamingState = "streaming"
	StreamingStateEnded     StreamingState = "ended"
	StreamingStateFailed    StreamingState = "failed"
)

const timestampLayout = "15:04"

// NewMessage creates a message with a time-ordered ID and its display timestamp already formatted.
func NewMessage(role Role, text string, now time.Time) Message {
	state := StreamingStateEnded
	if role == RoleAssistant && text == "" {
		state = StreamingStateLoading
	}
	return Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Role:           role,
		Text:           text,
		CreatedAt:      now,
		Timestamp:      now.Format(timestampLayout),
		StreamingState: state,
	}
}

// HasImage reports whether any of the attachments is an image.
func (m Message) HasImage() bool {
	for _, a := range m.Attachments {
		if IsImage(a.MediaType) {
			return true
		}
	}
	return false
}
