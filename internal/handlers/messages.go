package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/delivery"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/middleware"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MessageHandler serves the message endpoints: sending, history, read
// state. Delivery decisions live in the router, not here.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	router      *delivery.Router
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, router *delivery.Router) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo, router: router}
}

// PostMessage accepts a message for the room or a named recipient. The
// response reflects storage only; push outcomes are never surfaced here.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.router.Send(c.Request.Context(), user, models.DestinationFor(req.ToUsername), req.Content)
	if err != nil {
		status, message := sendErrorStatus(err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusCreated, models.NewMessageResponse(msg))
}

// GetMessages returns room history, oldest first, with pagination and an
// optional since filter.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	limit, offset, ok := parsePagination(c)
	if !ok {
		return
	}
	since, ok := parseSince(c)
	if !ok {
		return
	}

	msgs, total, err := h.messageRepo.ListRoom(c.Request.Context(), limit, offset, since)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.NewPaginatedMessagesResponse(msgs, total, offset, limit))
}

// GetDirectMessages returns the caller's direct message history, both sent
// and received.
func (h *MessageHandler) GetDirectMessages(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	limit, offset, ok := parsePagination(c)
	if !ok {
		return
	}
	since, ok := parseSince(c)
	if !ok {
		return
	}

	msgs, total, err := h.messageRepo.ListDirect(c.Request.Context(), user.Username, limit, offset, since)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.NewPaginatedMessagesResponse(msgs, total, offset, limit))
}

// GetUnreadMessages returns the caller's unread messages per scope.
func (h *MessageHandler) GetUnreadMessages(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	limit, offset, ok := parsePagination(c)
	if !ok {
		return
	}

	room, err := h.messageRepo.UnreadRoom(c.Request.Context(), user.Username, limit, offset)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	direct, err := h.messageRepo.UnreadDirect(c.Request.Context(), user.Username, limit, offset)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	roomItems := make([]models.MessageResponse, 0, len(room))
	for _, m := range room {
		roomItems = append(roomItems, models.NewMessageResponse(m))
	}
	directItems := make([]models.MessageResponse, 0, len(direct))
	for _, m := range direct {
		directItems = append(directItems, models.NewMessageResponse(m))
	}

	c.JSON(http.StatusOK, gin.H{
		"unread_room_messages":   roomItems,
		"unread_direct_messages": directItems,
	})
}

// GetUnreadCount returns the caller's unread counts per scope.
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	room, direct, total, err := h.messageRepo.UnreadCount(c.Request.Context(), user.Username)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.UnreadCountResponse{
		UnreadRoomMessages:   room,
		UnreadDirectMessages: direct,
		TotalUnread:          total,
	})
}

// MarkRead records a read receipt for one message. Idempotent.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	created, err := h.router.MarkRead(c.Request.Context(), user.Username, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id":   messageID.String(),
		"already_read": !created,
	})
}

// MarkAllRead marks every unread message visible to the caller, optionally
// restricted to one scope.
func (h *MessageHandler) MarkAllRead(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req models.MarkAllReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	count, err := h.messageRepo.MarkAllRead(c.Request.Context(), user.Username, models.MessageType(req.Scope))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.MarkAllReadResponse{MarkedRead: count})
}

// GetMessage returns one message by id. Admin only.
func (h *MessageHandler) GetMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.JSON(http.StatusOK, models.NewMessageResponse(msg))
}

// DeleteMessage removes one message and its read receipts. Admin only.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if err := h.messageRepo.Delete(c.Request.Context(), messageID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	c.Status(http.StatusNoContent)
}

func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, delivery.ErrRecipientNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, delivery.ErrValidation),
		errors.Is(err, delivery.ErrRecipientNotAddressable):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repositories.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "could not send message"
	}
}

func parsePagination(c *gin.Context) (int, int, bool) {
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > maxPageLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = value
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return 0, 0, false
		}
		offset = value
	}

	return limit, offset, true
}

func parseSince(c *gin.Context) (*time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return nil, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
		return nil, false
	}
	return &since, true
}
