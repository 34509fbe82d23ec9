package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/delivery"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

// MockMessageRepository is a testify mock of repositories.MessageRepository.
type MockMessageRepository struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MockMessageRepository)(nil)

func (m *MockMessageRepository) Append(ctx context.Context, from string, to *string, content string, kind models.MessageType) (models.Message, error) {
	args := m.Called(ctx, from, to, content, kind)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockMessageRepository) ListRoom(ctx context.Context, limit, offset int, since *time.Time) ([]models.Message, int, error) {
	args := m.Called(ctx, limit, offset, since)
	var msgs []models.Message
	if args.Get(0) != nil {
		msgs = args.Get(0).([]models.Message)
	}
	return msgs, args.Int(1), args.Error(2)
}

func (m *MockMessageRepository) ListDirect(ctx context.Context, username string, limit, offset int, since *time.Time) ([]models.Message, int, error) {
	args := m.Called(ctx, username, limit, offset, since)
	var msgs []models.Message
	if args.Get(0) != nil {
		msgs = args.Get(0).([]models.Message)
	}
	return msgs, args.Int(1), args.Error(2)
}

func (m *MockMessageRepository) Get(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockMessageRepository) Delete(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, username string, messageID uuid.UUID) (bool, error) {
	args := m.Called(ctx, username, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) MarkAllRead(ctx context.Context, username string, scope models.MessageType) (int, error) {
	args := m.Called(ctx, username, scope)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageRepository) UnreadRoom(ctx context.Context, username string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, username, limit, offset)
	var msgs []models.Message
	if args.Get(0) != nil {
		msgs = args.Get(0).([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MockMessageRepository) UnreadDirect(ctx context.Context, username string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, username, limit, offset)
	var msgs []models.Message
	if args.Get(0) != nil {
		msgs = args.Get(0).([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MockMessageRepository) UnreadCount(ctx context.Context, username string) (int, int, int, error) {
	args := m.Called(ctx, username)
	return args.Int(0), args.Int(1), args.Int(2), args.Error(3)
}

// MockUserRepository is a testify mock of repositories.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

var _ repositories.UserRepository = (*MockUserRepository)(nil)

func (m *MockUserRepository) Create(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockUserRepository) GetByAPIKey(ctx context.Context, apiKey string) (models.User, error) {
	args := m.Called(ctx, apiKey)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockUserRepository) ListAllUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if args.Get(0) != nil {
		users = args.Get(0).([]models.User)
	}
	return users, args.Error(1)
}

func (m *MockUserRepository) UpdateWebhook(ctx context.Context, username string, webhookURL *string) error {
	args := m.Called(ctx, username, webhookURL)
	return args.Error(0)
}

// MockPresence is a testify mock of the delivery router's presence surface.
type MockPresence struct {
	mock.Mock
}

var _ delivery.Presence = (*MockPresence)(nil)

func (m *MockPresence) IsOnline(username string) bool {
	args := m.Called(username)
	return args.Bool(0)
}

func (m *MockPresence) SendTo(username string, event models.WSEvent) int {
	args := m.Called(username, event)
	return args.Int(0)
}

func (m *MockPresence) OnlineUsers() []string {
	args := m.Called()
	var users []string
	if args.Get(0) != nil {
		users = args.Get(0).([]string)
	}
	return users
}

// MockPusher is a testify mock of the webhook delivery handoff.
type MockPusher struct {
	mock.Mock
}

var _ delivery.Pusher = (*MockPusher)(nil)

func (m *MockPusher) Deliver(endpoint, username string, payload models.MessageResponse) {
	m.Called(endpoint, username, payload)
}
