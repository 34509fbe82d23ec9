package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

var (
	// ErrValidation rejects malformed content before persistence.
	ErrValidation = errors.New("validation failed")
	// ErrRecipientNotFound rejects direct messages to unknown users.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrRecipientNotAddressable rejects direct messages to viewer users.
	ErrRecipientNotAddressable = errors.New("recipient cannot receive direct messages")
)

// Delivery outcomes per (message, recipient) pair. Terminal once entered;
// handed_to_push is terminal from the router's perspective even though the
// engine keeps retrying asynchronously.
const (
	OutcomeDeliveredLive = "delivered_live"
	OutcomeHandedToPush  = "handed_to_push"
	OutcomeStoredOnly    = "stored_only"
)

// MessageStore is the slice of the message repository the router needs.
type MessageStore interface {
	Append(ctx context.Context, from string, to *string, content string, kind models.MessageType) (models.Message, error)
	Get(ctx context.Context, messageID uuid.UUID) (models.Message, error)
	MarkRead(ctx context.Context, username string, messageID uuid.UUID) (bool, error)
}

// Directory is the user-directory collaborator.
type Directory interface {
	GetByUsername(ctx context.Context, username string) (models.User, error)
	ListAllUsers(ctx context.Context) ([]models.User, error)
}

// Presence is the connection registry surface consulted for live delivery.
type Presence interface {
	IsOnline(username string) bool
	SendTo(username string, event models.WSEvent) int
}

// Pusher hands a payload to the webhook delivery engine. Must never block.
type Pusher interface {
	Deliver(endpoint, username string, payload models.MessageResponse)
}

// Router decides, for every outgoing message, who must receive it and by
// which channel: live session first, webhook handoff second, durable
// storage as the floor.
type Router struct {
	store    MessageStore
	users    Directory
	presence Presence
	pusher   Pusher
}

// NewRouter wires the router to its collaborators. All instances are
// explicit so tests can construct isolated routers.
func NewRouter(store MessageStore, users Directory, presence Presence, pusher Pusher) *Router {
	return &Router{store: store, users: users, presence: presence, pusher: pusher}
}

// Send validates, persists exactly once, then fans out per recipient. The
// sender gets a definitive answer about whether the message was recorded;
// webhook outcomes never reach them.
func (r *Router) Send(ctx context.Context, sender models.User, dest models.Destination, content string) (models.Message, error) {
	if content == "" {
		return models.Message{}, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if len(content) > models.MaxContentLength {
		return models.Message{}, fmt.Errorf("%w: content exceeds %d characters", ErrValidation, models.MaxContentLength)
	}

	var to *string
	var recipient models.User
	if dest.Kind == models.MessageTypeDirect {
		user, err := r.users.GetByUsername(ctx, dest.To)
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.Message{}, fmt.Errorf("%w: %s", ErrRecipientNotFound, dest.To)
		}
		if err != nil {
			return models.Message{}, err
		}
		if user.Viewer {
			return models.Message{}, fmt.Errorf("%w: %s", ErrRecipientNotAddressable, dest.To)
		}
		recipient = user
		to = &user.Username
	}

	// Durably stored before any push is attempted: a client can never see a
	// message over push that a subsequent list call misses.
	msg, err := r.store.Append(ctx, sender.Username, to, content, dest.Kind)
	if err != nil {
		return models.Message{}, err
	}

	resp := models.NewMessageResponse(msg)
	event := models.WSEvent{Type: models.WSEventMessage, Message: &resp}

	if dest.Kind == models.MessageTypeDirect {
		r.routeToRecipient(recipient, event, resp)
	} else {
		r.fanOutRoom(ctx, sender.Username, event, resp)
	}

	return msg, nil
}

// MarkRead records the read receipt and, when it is new, notifies the
// sender's live sessions. Idempotent: re-reading succeeds without
// double-counting.
func (r *Router) MarkRead(ctx context.Context, username string, messageID uuid.UUID) (bool, error) {
	msg, err := r.store.Get(ctx, messageID)
	if err != nil {
		return false, err
	}

	created, err := r.store.MarkRead(ctx, username, messageID)
	if err != nil {
		return false, err
	}

	if created && msg.FromUsername != username {
		r.presence.SendTo(msg.FromUsername, models.WSEvent{
			Type:      models.WSEventReadReceipt,
			MessageID: msg.ID.String(),
			ReadBy:    username,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	return created, nil
}

// fanOutRoom routes one room message to every other user. Viewer users may
// receive live pushes but are never webhook targets.
func (r *Router) fanOutRoom(ctx context.Context, sender string, event models.WSEvent, resp models.MessageResponse) {
	users, err := r.users.ListAllUsers(ctx)
	if err != nil {
		// The message is already stored and discoverable by polling; losing
		// the fan-out list only degrades delivery to stored-only.
		log.Printf("room fan-out aborted, directory unavailable: %v", err)
		return
	}

	for _, user := range users {
		if user.Username == sender {
			continue
		}
		if user.Viewer {
			if r.presence.IsOnline(user.Username) {
				r.presence.SendTo(user.Username, event)
			}
			continue
		}
		r.routeToRecipient(user, event, resp)
	}
}

// routeToRecipient walks one recipient through the delivery state machine:
// live session, webhook handoff, stored-only.
func (r *Router) routeToRecipient(user models.User, event models.WSEvent, resp models.MessageResponse) {
	if r.presence.IsOnline(user.Username) {
		if r.presence.SendTo(user.Username, event) > 0 {
			observability.IncDelivery(OutcomeDeliveredLive)
			return
		}
	}

	if user.HasWebhook() {
		r.pusher.Deliver(*user.WebhookURL, user.Username, resp)
		observability.IncDelivery(OutcomeHandedToPush)
		return
	}

	observability.IncDelivery(OutcomeStoredOnly)
}
