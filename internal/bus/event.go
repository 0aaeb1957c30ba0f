package bus

import "time"

// Event kinds published by the sync engine.
const (
	ConversationsChanged = "store.conversations_changed"
	MessagesChanged      = "store.messages_changed"
	CopilotChanged       = "copilot.changed"
	TransportStatus      = "transport.status_changed"
	SendAck              = "outbox.send_ack"
	SendFailed           = "outbox.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// SendResult is the payload of outbox events.
type SendResult struct {
	ConversationID string
	TempID         string
	ServerID       string
	Err            error
}
