package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a message on the bus. Nodes subscribe per type.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventCapability EventType = "capability"
	EventTask       EventType = "task"
	EventAck        EventType = "ack"
	EventResult     EventType = "result"
)

// Status tracks what happened to a message after Emit.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// MetaKind tags which protocol fields of Meta are meaningful.
type MetaKind string

const (
	MetaConnect    MetaKind = "connect"
	MetaDisconnect MetaKind = "disconnect"
	MetaCapability MetaKind = "capability"
	MetaTask       MetaKind = "task"
	MetaAck        MetaKind = "ack"
	MetaResult     MetaKind = "result"
)

// Meta carries the protocol fields the delegation logic branches on.
// Kind says which fields apply; unused fields stay at their zero value.
type Meta struct {
	Kind                   MetaKind `json:"kind,omitempty"`
	Role                   string   `json:"role,omitempty"`
	TaskHistory            string   `json:"task_history,omitempty"`
	IsTaskResolved         bool     `json:"is_task_resolved,omitempty"`
	FinalResult            bool     `json:"final_result,omitempty"`
	OriginalRequest        string   `json:"original_request,omitempty"`
	Requester              string   `json:"requester,omitempty"`
	ProcessingInstructions string   `json:"processing_instructions,omitempty"`
	Capabilities           []string `json:"capabilities,omitempty"`
	Action                 string   `json:"action,omitempty"`
}

// Message is the unit of delivery. An empty ReceiverID means broadcast.
// ID is unique per logical message; a retransmission keeps the same ID.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Type       EventType `json:"type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
	Meta       Meta      `json:"metadata"`
}

// NewID returns a fresh globally unique message id.
func NewID() string {
	return uuid.New().String()
}
