package models

// WSEvent is the envelope pushed to live WebSocket sessions.
type WSEvent struct {
	Type      string                     `json:"type"`
	Message   *MessageResponse           `json:"message,omitempty"`
	MessageID string                     `json:"message_id,omitempty"`
	ReadBy    string                     `json:"read_by,omitempty"`
	Timestamp string                     `json:"timestamp,omitempty"`
	Error     string                     `json:"error,omitempty"`
	History   *PaginatedMessagesResponse `json:"history,omitempty"`
}

const (
	WSEventMessage     = "message"
	WSEventReadReceipt = "read_receipt"
	WSEventPing        = "ping"
	WSEventAck         = "sent"
	WSEventError       = "error"
	WSEventHistory     = "history"
)

// WSClientFrame is an inbound frame relayed by a live session. Semantics
// match the REST surface: message send, mark-read, history pagination and
// heartbeat pong.
type WSClientFrame struct {
	Type       string  `json:"type"`
	Content    string  `json:"content,omitempty"`
	ToUsername *string `json:"to_username,omitempty"`
	MessageID  string  `json:"message_id,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

const (
	WSFrameMessage  = "message"
	WSFrameMarkRead = "mark_read"
	WSFrameHistory  = "history"
	WSFramePong     = "pong"
)
