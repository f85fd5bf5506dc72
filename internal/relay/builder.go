// Package relay turns flushed channel units into completion requests and
// posts the generated replies back to the channel.
package relay

import (
	"github.com/nextlevelbuilder/ircrelay/internal/history"
	"github.com/nextlevelbuilder/ircrelay/internal/providers"
)

// NoResponseReply is posted when the backend answers without any choice.
const NoResponseReply = "No response from the completion backend."

// BuildRequest converts the whole history snapshot into a chat request.
// Turns authored by nickname are sent as assistant turns, everything else as
// user turns. Each turn's content carries its author so the model can tell
// participants apart.
func BuildRequest(snapshot history.Log, nickname, model string) providers.ChatRequest {
	msgs := make([]providers.Message, 0, snapshot.Len())
	for i := 0; i < snapshot.Len(); i++ {
		e := snapshot.At(i)
		role := providers.RoleUser
		if e.Author == nickname {
			role = providers.RoleAssistant
		}
		msgs = append(msgs, providers.Message{
			Role:    role,
			Content: FormatTurn(e),
		})
	}
	return providers.ChatRequest{Model: model, Messages: msgs}
}

// FormatTurn renders a history entry as "<author> - <text>".
func FormatTurn(e history.Entry) string {
	return e.Author + " - " + e.Text
}

// ShouldRespond reports whether the backend should be called for a history
// of historyLen entries. A non-leader stays quiet until the history holds at
// least two entries.
func ShouldRespond(historyLen int, leader bool) bool {
	return leader || historyLen >= 2
}
