package bus

import "time"

// InboundMessage represents a line received from the chat network.
type InboundMessage struct {
	Channel  string `json:"channel"`   // transport name, e.g. "irc"
	SenderID string `json:"sender_id"` // nickname of the author, case-sensitive
	ChatID   string `json:"chat_id"`   // target the line was addressed to (channel name)
	Content  string `json:"content"`
}

// OutboundMessage represents a single line to be sent to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// FlushedUnit is the combined text of one sender's burst, emitted once the
// sender has been idle for the debounce window. Immutable once created.
type FlushedUnit struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	FlushedAt time.Time `json:"flushed_at"`
}

// Event represents a pipeline event broadcast to status observers.
type Event struct {
	Name    string      `json:"name"` // see protocol.Event* constants
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the relay and the status server to decouple from the concrete hub.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
