package protocol

// ProtocolVersion is bumped whenever an event payload changes shape.
const ProtocolVersion = 1

// Event names pushed from the status server to WebSocket observers.
const (
	EventHealth       = "health"
	EventUnitFlushed  = "unit.flushed"
	EventUnitDropped  = "unit.dropped"
	EventHistory      = "history.appended"
	EventReplySkipped = "reply.skipped"
	EventReplyFailed  = "reply.failed"
	EventShutdown     = "shutdown"
)

// Drop reasons (payload.reason of EventUnitDropped).
const (
	DropReasonQueueClosed = "queue_closed"
	DropReasonQueueFull   = "queue_full"
	DropReasonEvicted     = "evicted"
	DropReasonShutdown    = "shutdown"
)
