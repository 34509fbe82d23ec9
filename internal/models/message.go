package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes room broadcasts from direct messages.
type MessageType string

const (
	MessageTypeRoom   MessageType = "room"
	MessageTypeDirect MessageType = "direct"
)

// MaxContentLength bounds message payloads.
const MaxContentLength = 10000

// Message is a stored chat message. Immutable once created; the store
// assigns ID and CreatedAt at insert time.
type Message struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	FromUsername string      `db:"from_username" json:"from_username"`
	ToUsername   *string     `db:"to_username" json:"to_username"`
	Content      string      `db:"content" json:"content"`
	MessageType  MessageType `db:"message_type" json:"message_type"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	MessageID uuid.UUID `db:"message_id" json:"message_id"`
	Username  string    `db:"username" json:"username"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// Destination is the tagged addressing variant for an outgoing message,
// built once at the API or WebSocket boundary and consumed uniformly by
// the delivery router.
type Destination struct {
	Kind MessageType
	To   string // recipient username, set only for direct messages
}

// DestinationFor derives the destination from an optional recipient.
func DestinationFor(toUsername *string) Destination {
	if toUsername != nil && *toUsername != "" {
		return Destination{Kind: MessageTypeDirect, To: *toUsername}
	}
	return Destination{Kind: MessageTypeRoom}
}
