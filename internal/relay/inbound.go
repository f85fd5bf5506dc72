package relay

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/ircrelay/internal/bus"
)

// Recorder buffers a line for a sender. *bus.Debouncer implements it.
type Recorder interface {
	Record(sender, text string)
}

// InboundHandler returns a handler that forwards lines addressed to channel
// (compared case-insensitively) to rec. Lines for other targets, such as
// private messages, are ignored.
func InboundHandler(channel string, rec Recorder) func(bus.InboundMessage) {
	return func(msg bus.InboundMessage) {
		if !strings.EqualFold(msg.ChatID, channel) {
			slog.Debug("ignoring message for other target", "target", msg.ChatID, "sender", msg.SenderID)
			return
		}
		slog.Debug("inbound", "sender", msg.SenderID, "text", msg.Content)
		rec.Record(msg.SenderID, msg.Content)
	}
}
