package bus

import (
	"log/slog"
	"sync"
)

// EventHub is an in-process EventPublisher. Handlers run synchronously on the
// broadcasting goroutine, so they must not block (the status server hands
// events to per-client buffered channels).
type EventHub struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{handlers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous handler with the same id.
func (h *EventHub) Subscribe(id string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

// Broadcast delivers event to every subscriber. A panicking handler is
// logged and does not affect the others.
func (h *EventHub) Broadcast(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", event.Name, "panic", r)
				}
			}()
			fn(event)
		}()
	}
}

// Subscribers returns the number of registered handlers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
