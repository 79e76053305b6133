package push

import (
	"context"
	"sync"

	"emphealth-backend/pkg/logger"

	"go.uber.org/zap"
)

// MockProvider accepts every notification without delivering it.
// Used in development and tests.
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
}

// NewMockProvider creates a provider that only records notifications
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name implements Provider
func (m *MockProvider) Name() string { return "mock" }

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Sent returns the notifications handed to the provider so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
