package chat

import (
	"slices"

	"github.com/OmChillure/clinic-chat/internal/models"
)

// Transcript is the ordered list of messages shown to the user. Insertion order is display order.
//
// Transcript is not safe for concurrent use, the Client guards it with its own lock. Operations
// addressed to an ID that is not in the transcript are no-ops and report false.
type Transcript struct {
	messages []models.Message
}

// Append adds a message at the end of the transcript.
func (t *Transcript) Append(msg models.Message) {
	t.messages = append(t.messages, msg)
}

// AppendText appends delta to the text of the message with the given ID and marks it as streaming.
func (t *Transcript) AppendText(id, delta string) (models.Message, bool) {
	return t.update(id, func(m *models.Message) {
		m.Text += delta
		m.StreamingState = models.StreamingStateStreaming
	})
}

// ReplaceText overwrites the text of the message with the given ID and sets its state.
func (t *Transcript) ReplaceText(id, text string, state models.StreamingState) (models.Message, bool) {
	return t.update(id, func(m *models.Message) {
		m.Text = text
		m.StreamingState = state
	})
}

// SetState changes the streaming state of the message with the given ID, leaving its text untouched.
func (t *Transcript) SetState(id string, state models.StreamingState) (models.Message, bool) {
	return t.update(id, func(m *models.Message) {
		m.StreamingState = state
	})
}

// Remove deletes the message with the given ID and returns it.
func (t *Transcript) Remove(id string) (models.Message, bool) {
	idx := t.index(id)
	if idx == -1 {
		return models.Message{}, false
	}
	msg := t.messages[idx]
	t.messages = slices.Delete(t.messages, idx, idx+1)
	return msg, true
}

// Message returns the message with the given ID.
func (t *Transcript) Message(id string) (models.Message, bool) {
	idx := t.index(id)
	if idx == -1 {
		return models.Message{}, false
	}
	return t.messages[idx], true
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []models.Message {
	return slices.Clone(t.messages)
}

// Len returns the number of messages in the transcript.
func (t *Transcript) Len() int {
	return len(t.messages)
}

func (t *Transcript) update(id string, fn func(*models.Message)) (models.Message, bool) {
	idx := t.index(id)
	if idx == -1 {
		return models.Message{}, false
	}
	fn(&t.messages[idx])
	return t.messages[idx], true
}

func (t *Transcript) index(id string) int {
	// The in-flight message is almost always the last one.
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}
