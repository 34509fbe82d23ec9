package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
)

// MockPublisher is a testify mock of observability.Publisher.
type MockPublisher struct {
	mock.Mock
}

var _ observability.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
