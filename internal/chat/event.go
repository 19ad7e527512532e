package chat

import "github.com/OmChillure/clinic-chat/internal/models"

// EventType names a transcript change. The values double as SSE event types in the web UI.
type EventType string

const (
	EventAppended EventType = "append"
	EventUpdated  EventType = "update"
	EventRemoved  EventType = "remove"
)

// Event describes a single transcript change.
type Event struct {
	Type EventType
	// Message is the message as it is after the change, or as it was before removal.
	Message models.Message
	// Delta is the fragment appended by this change, set only for streaming updates.
	Delta string
}

// Observer receives transcript changes in the order they were made. It is called synchronously and
// must not call back into the Client.
type Observer func(Event)
