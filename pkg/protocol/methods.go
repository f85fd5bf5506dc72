package protocol

// Request method names accepted on the status WebSocket.
const (
	MethodHealth  = "health"
	MethodStatus  = "status"
	MethodHistory = "history"
)
