package models

import "time"

// SendMessageRequest is the body for POST /messages.
type SendMessageRequest struct {
	Content    string  `json:"content" binding:"required,max=10000"`
	ToUsername *string `json:"to_username,omitempty"`
}

// MessageResponse is the wire form of a stored message. Timestamps are
// serialized as RFC 3339 UTC strings.
type MessageResponse struct {
	ID           string      `json:"id"`
	FromUsername string      `json:"from_username"`
	ToUsername   *string     `json:"to_username"`
	Content      string      `json:"content"`
	MessageType  MessageType `json:"message_type"`
	CreatedAt    string      `json:"created_at"`
}

// NewMessageResponse converts a stored message to its wire form.
func NewMessageResponse(msg Message) MessageResponse {
	return MessageResponse{
		ID:           msg.ID.String(),
		FromUsername: msg.FromUsername,
		ToUsername:   msg.ToUsername,
		Content:      msg.Content,
		MessageType:  msg.MessageType,
		CreatedAt:    msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PaginationMetadata describes a page of a message listing. Total reflects
// the count matching the filter at query time, after the most recently
// committed history trim.
type PaginationMetadata struct {
	Total   int  `json:"total"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// PaginatedMessagesResponse is the envelope for message listings.
type PaginatedMessagesResponse struct {
	Messages   []MessageResponse  `json:"messages"`
	Pagination PaginationMetadata `json:"pagination"`
}

// NewPaginatedMessagesResponse builds the envelope from a page of messages.
func NewPaginatedMessagesResponse(msgs []Message, total, offset, limit int) PaginatedMessagesResponse {
	items := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, NewMessageResponse(m))
	}
	return PaginatedMessagesResponse{
		Messages: items,
		Pagination: PaginationMetadata{
			Total:   total,
			Offset:  offset,
			Limit:   limit,
			HasMore: offset+len(msgs) < total,
		},
	}
}

// UnreadCountResponse reports unread message counts per scope.
type UnreadCountResponse struct {
	UnreadRoomMessages   int `json:"unread_room_messages"`
	UnreadDirectMessages int `json:"unread_direct_messages"`
	TotalUnread          int `json:"total_unread"`
}

// MarkAllReadRequest optionally restricts mark-all-read to one scope.
type MarkAllReadRequest struct {
	Scope string `json:"scope,omitempty" binding:"omitempty,oneof=room direct"`
}

// MarkAllReadResponse reports how many messages were marked.
type MarkAllReadResponse struct {
	MarkedRead int `json:"marked_read"`
}

// RegisterUserRequest is the body for POST /register.
type RegisterUserRequest struct {
	Username   string  `json:"username" binding:"required,min=1,max=50"`
	WebhookURL *string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	Viewer     bool    `json:"viewer"`
}

// RegisterUserResponse returns the credentials for a new user.
type RegisterUserResponse struct {
	Username   string  `json:"username"`
	APIKey     string  `json:"api_key"`
	WebhookURL *string `json:"webhook_url,omitempty"`
	Viewer     bool    `json:"viewer"`
}

// UpdateWebhookRequest is the body for PATCH /users/me/webhook. A null URL
// clears the endpoint.
type UpdateWebhookRequest struct {
	WebhookURL *string `json:"webhook_url" binding:"omitempty,url"`
}

// UserProfileResponse is the caller's own directory entry.
type UserProfileResponse struct {
	Username   string  `json:"username"`
	APIKey     string  `json:"api_key"`
	WebhookURL *string `json:"webhook_url,omitempty"`
	Viewer     bool    `json:"viewer"`
	Admin      bool    `json:"admin"`
	CreatedAt  string  `json:"created_at"`
}

// NewUserProfileResponse converts a directory entry to its wire form.
func NewUserProfileResponse(user User) UserProfileResponse {
	return UserProfileResponse{
		Username:   user.Username,
		APIKey:     user.APIKey,
		WebhookURL: user.WebhookURL,
		Viewer:     user.Viewer,
		Admin:      user.Admin,
		CreatedAt:  user.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
