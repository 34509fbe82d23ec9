package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/delivery"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/mocks"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

func strPtr(s string) *string { return &s }

func chatUser(username string, webhook *string) models.User {
	return models.User{Username: username, APIKey: "key-" + username, WebhookURL: webhook, CreatedAt: time.Now()}
}

func storedMessage(from string, to *string, content string, kind models.MessageType) models.Message {
	return models.Message{
		ID:           uuid.New(),
		FromUsername: from,
		ToUsername:   to,
		Content:      content,
		MessageType:  kind,
		CreatedAt:    time.Now().UTC(),
	}
}

func newRouter() (*delivery.Router, *mocks.MockMessageRepository, *mocks.MockUserRepository, *mocks.MockPresence, *mocks.MockPusher) {
	store := new(mocks.MockMessageRepository)
	users := new(mocks.MockUserRepository)
	presence := new(mocks.MockPresence)
	pusher := new(mocks.MockPusher)
	return delivery.NewRouter(store, users, presence, pusher), store, users, presence, pusher
}

func TestSendRejectsEmptyContent(t *testing.T) {
	router, store, _, _, _ := newRouter()

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeRoom}, "")

	require.ErrorIs(t, err, delivery.ErrValidation)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendRejectsOversizedContent(t *testing.T) {
	router, store, _, _, _ := newRouter()

	long := make([]byte, models.MaxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeRoom}, string(long))

	require.ErrorIs(t, err, delivery.ErrValidation)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDirectToUnknownRecipientFailsBeforePersist(t *testing.T) {
	router, store, users, _, _ := newRouter()
	users.On("GetByUsername", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound)

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeDirect, To: "ghost"}, "hi")

	require.ErrorIs(t, err, delivery.ErrRecipientNotFound)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDirectToViewerIsNotAddressable(t *testing.T) {
	router, store, users, _, _ := newRouter()
	viewer := chatUser("watcher", nil)
	viewer.Viewer = true
	users.On("GetByUsername", mock.Anything, "watcher").Return(viewer, nil)

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeDirect, To: "watcher"}, "hi")

	require.ErrorIs(t, err, delivery.ErrRecipientNotAddressable)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDirectDeliversLiveWhenRecipientConnected(t *testing.T) {
	router, store, users, presence, pusher := newRouter()

	bob := chatUser("bob", strPtr("https://bob.example.com/hook"))
	users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil)

	msg := storedMessage("alice", strPtr("bob"), "hi bob", models.MessageTypeDirect)
	store.On("Append", mock.Anything, "alice", mock.Anything, "hi bob", models.MessageTypeDirect).Return(msg, nil)

	presence.On("IsOnline", "bob").Return(true)
	presence.On("SendTo", "bob", mock.MatchedBy(func(event models.WSEvent) bool {
		return event.Type == models.WSEventMessage && event.Message != nil && event.Message.Content == "hi bob"
	})).Return(1)

	got, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeDirect, To: "bob"}, "hi bob")

	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	// Live delivery succeeded, so the webhook engine must not be touched.
	pusher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
	presence.AssertExpectations(t)
}

func TestSendDirectHandsToWebhookWhenRecipientOffline(t *testing.T) {
	router, store, users, presence, pusher := newRouter()

	bob := chatUser("bob", strPtr("https://bob.example.com/hook"))
	users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil)

	msg := storedMessage("alice", strPtr("bob"), "hi bob", models.MessageTypeDirect)
	store.On("Append", mock.Anything, "alice", mock.Anything, "hi bob", models.MessageTypeDirect).Return(msg, nil)

	presence.On("IsOnline", "bob").Return(false)
	pusher.On("Deliver", "https://bob.example.com/hook", "bob", mock.MatchedBy(func(payload models.MessageResponse) bool {
		return payload.ID == msg.ID.String()
	})).Return()

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeDirect, To: "bob"}, "hi bob")

	require.NoError(t, err)
	pusher.AssertExpectations(t)
	presence.AssertNotCalled(t, "SendTo", mock.Anything, mock.Anything)
}

func TestSendDirectStoredOnlyWithoutSessionOrWebhook(t *testing.T) {
	router, store, users, presence, pusher := newRouter()

	bob := chatUser("bob", nil)
	users.On("GetByUsername", mock.Anything, "bob").Return(bob, nil)

	msg := storedMessage("alice", strPtr("bob"), "hi bob", models.MessageTypeDirect)
	store.On("Append", mock.Anything, "alice", mock.Anything, "hi bob", models.MessageTypeDirect).Return(msg, nil)

	presence.On("IsOnline", "bob").Return(false)

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeDirect, To: "bob"}, "hi bob")

	require.NoError(t, err)
	pusher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendRoomFansOutPerRecipient(t *testing.T) {
	router, store, users, presence, pusher := newRouter()

	// bob is connected, carol is offline with a webhook, dave has neither,
	// and a viewer only gets a live push when connected.
	bob := chatUser("bob", nil)
	carol := chatUser("carol", strPtr("https://carol.example.com/hook"))
	dave := chatUser("dave", nil)
	watcher := chatUser("watcher", strPtr("https://watcher.example.com/hook"))
	watcher.Viewer = true

	users.On("ListAllUsers", mock.Anything).Return([]models.User{chatUser("alice", nil), bob, carol, dave, watcher}, nil)

	msg := storedMessage("alice", nil, "hello room", models.MessageTypeRoom)
	store.On("Append", mock.Anything, "alice", (*string)(nil), "hello room", models.MessageTypeRoom).Return(msg, nil)

	presence.On("IsOnline", "bob").Return(true)
	presence.On("SendTo", "bob", mock.Anything).Return(1)
	presence.On("IsOnline", "carol").Return(false)
	presence.On("IsOnline", "dave").Return(false)
	presence.On("IsOnline", "watcher").Return(false)

	pusher.On("Deliver", "https://carol.example.com/hook", "carol", mock.Anything).Return()

	_, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeRoom}, "hello room")

	require.NoError(t, err)
	presence.AssertExpectations(t)
	pusher.AssertExpectations(t)
	// One stored record regardless of recipient count.
	store.AssertNumberOfCalls(t, "Append", 1)
	// The offline viewer never falls back to webhook delivery.
	pusher.AssertNumberOfCalls(t, "Deliver", 1)
	// The sender is not a recipient of their own message.
	presence.AssertNotCalled(t, "SendTo", "alice", mock.Anything)
}

func TestSendRoomPersistsEvenWhenDirectoryFails(t *testing.T) {
	router, store, users, _, _ := newRouter()

	msg := storedMessage("alice", nil, "hello", models.MessageTypeRoom)
	store.On("Append", mock.Anything, "alice", (*string)(nil), "hello", models.MessageTypeRoom).Return(msg, nil)
	users.On("ListAllUsers", mock.Anything).Return(nil, repositories.ErrStorageUnavailable)

	got, err := router.Send(context.Background(), chatUser("alice", nil), models.Destination{Kind: models.MessageTypeRoom}, "hello")

	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
}

func TestMarkReadNotifiesSenderOnce(t *testing.T) {
	router, store, _, presence, _ := newRouter()

	msg := storedMessage("alice", strPtr("bob"), "hi", models.MessageTypeDirect)
	store.On("Get", mock.Anything, msg.ID).Return(msg, nil)
	store.On("MarkRead", mock.Anything, "bob", msg.ID).Return(true, nil).Once()
	store.On("MarkRead", mock.Anything, "bob", msg.ID).Return(false, nil)

	presence.On("SendTo", "alice", mock.MatchedBy(func(event models.WSEvent) bool {
		return event.Type == models.WSEventReadReceipt && event.MessageID == msg.ID.String() && event.ReadBy == "bob"
	})).Return(1)

	created, err := router.MarkRead(context.Background(), "bob", msg.ID)
	require.NoError(t, err)
	assert.True(t, created)

	// A second mark is idempotent and must not renotify.
	created, err = router.MarkRead(context.Background(), "bob", msg.ID)
	require.NoError(t, err)
	assert.False(t, created)

	presence.AssertNumberOfCalls(t, "SendTo", 1)
}

func TestMarkReadBySenderSkipsNotification(t *testing.T) {
	router, store, _, presence, _ := newRouter()

	msg := storedMessage("alice", nil, "hi", models.MessageTypeRoom)
	store.On("Get", mock.Anything, msg.ID).Return(msg, nil)
	store.On("MarkRead", mock.Anything, "alice", msg.ID).Return(true, nil)

	created, err := router.MarkRead(context.Background(), "alice", msg.ID)

	require.NoError(t, err)
	assert.True(t, created)
	presence.AssertNotCalled(t, "SendTo", mock.Anything, mock.Anything)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	router, store, _, _, _ := newRouter()

	id := uuid.New()
	store.On("Get", mock.Anything, id).Return(models.Message{}, repositories.ErrMessageNotFound)

	_, err := router.MarkRead(context.Background(), "bob", id)

	require.ErrorIs(t, err, repositories.ErrMessageNotFound)
	store.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}
