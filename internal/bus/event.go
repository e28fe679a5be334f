package bus

import "time"

// Event kinds published by the messaging core.
const (
	KindSocketStatus   = "socket.status"        // Payload bool, retained
	KindSocketMessage  = "socket.message"       // Payload string
	KindSocketState    = "socket.state_changed" // Payload status.Change, retained
	KindQueueDepth     = "queue.depth"          // Payload int, retained
	KindReachable      = "network.reachable"    // Payload bool, retained
	KindChatsChanged   = "store.chats_changed"
	KindMessagesChange = "store.messages_changed" // Payload chat id
	KindNotice         = "ui.notice"              // Payload string, retained
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
