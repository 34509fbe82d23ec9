package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/delivery"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

// Handler upgrades authenticated requests to live sessions and relays
// inbound frames to the delivery router.
type Handler struct {
	hub      *Hub
	users    repositories.UserRepository
	messages repositories.MessageRepository
	router   *delivery.Router
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, users repositories.UserRepository, messages repositories.MessageRepository, router *delivery.Router) *Handler {
	return &Handler{hub: hub, users: users, messages: messages, router: router}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the session, then serves
// its read loop until disconnect.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("token-bowl/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	user, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := h.hub.Register(user.Username, sock)

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)

	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"username": user.Username,
			"conn_id":  conn.ID,
			"ip":       ip,
		},
	}, observability.BuildHeaders(requestID, traceID))

	go h.readLoop(user, conn, sock, requestID, traceID)
}

func (h *Handler) readLoop(user models.User, conn *Conn, sock *websocket.Conn, requestID, traceID string) {
	var closeReason string
	defer func() {
		h.hub.Unregister(conn)
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(context.Background(), "ws_events.chat", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload: map[string]interface{}{
				"username":    user.Username,
				"conn_id":     conn.ID,
				"duration_ms": time.Since(conn.ConnectedAt).Milliseconds(),
				"reason":      closeReason,
			},
		}, observability.BuildHeaders(requestID, traceID))
	}()

	for {
		_, payload, err := sock.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		// Any inbound frame proves the peer is alive, malformed ones included.
		h.hub.Touch(conn)

		var frame models.WSClientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: "malformed frame"})
			continue
		}

		h.handleFrame(user, conn, frame)
	}
}

func (h *Handler) handleFrame(user models.User, conn *Conn, frame models.WSClientFrame) {
	switch frame.Type {
	case models.WSFramePong:
		h.hub.Pong(conn)

	case models.WSFrameMessage:
		msg, err := h.router.Send(context.Background(), user, models.DestinationFor(frame.ToUsername), frame.Content)
		if err != nil {
			h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: sendErrorText(err)})
			return
		}
		resp := models.NewMessageResponse(msg)
		h.sendEvent(conn, models.WSEvent{Type: models.WSEventAck, Message: &resp})

	case models.WSFrameMarkRead:
		messageID, err := uuid.Parse(frame.MessageID)
		if err != nil {
			h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: "invalid message id"})
			return
		}
		if _, err := h.router.MarkRead(context.Background(), user.Username, messageID); err != nil {
			h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: sendErrorText(err)})
		}

	case models.WSFrameHistory:
		limit := frame.Limit
		if limit < 1 || limit > 100 {
			limit = 50
		}
		offset := frame.Offset
		if offset < 0 {
			offset = 0
		}
		msgs, total, err := h.messages.ListRoom(context.Background(), limit, offset, nil)
		if err != nil {
			h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: "storage unavailable"})
			return
		}
		page := models.NewPaginatedMessagesResponse(msgs, total, offset, limit)
		h.sendEvent(conn, models.WSEvent{Type: models.WSEventHistory, History: &page})

	default:
		h.sendEvent(conn, models.WSEvent{Type: models.WSEventError, Error: "unknown frame type"})
	}
}

func (h *Handler) sendEvent(conn *Conn, event models.WSEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	if _, err := conn.write(payload); err != nil {
		h.hub.Unregister(conn)
	}
}

func (h *Handler) authenticate(c *gin.Context) (models.User, error) {
	apiKey := c.Query("api_key")
	if apiKey == "" {
		apiKey = c.GetHeader("X-API-Key")
	}
	if apiKey == "" {
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				apiKey = parts[1]
			}
		}
	}
	if apiKey == "" {
		return models.User{}, errors.New("missing api key")
	}
	return h.users.GetByAPIKey(c.Request.Context(), apiKey)
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, delivery.ErrValidation),
		errors.Is(err, delivery.ErrRecipientNotFound),
		errors.Is(err, delivery.ErrRecipientNotAddressable),
		errors.Is(err, repositories.ErrMessageNotFound):
		return err.Error()
	case errors.Is(err, repositories.ErrStorageUnavailable):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
