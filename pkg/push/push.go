package push

import (
	"context"
	"fmt"
	"time"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
	Name() string
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// Platform is the device family a token belongs to
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// Valid reports whether p is a known platform
func (p Platform) Valid() bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	}
	return false
}

// Token represents a push notification token for a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  Platform  `json:"platform"`
	DeviceID  string    `json:"device_id,omitempty"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, token string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  *metrics.Metrics
	breaker  *resilience.CircuitBreaker
	now      func() time.Time
}

// ProviderBreakerConfig guards provider sends. A failing provider is retried
// once, then skipped for the cooldown after five consecutive failures.
var ProviderBreakerConfig = resilience.Config{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
	Timeout:          10 * time.Second,
	MaxAttempts:      2,
	Backoff:          200 * time.Millisecond,
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  m,
		breaker:  resilience.NewCircuitBreaker("push_"+provider.Name(), ProviderBreakerConfig, m),
		now:      time.Now,
	}
}

// RegisterToken stores or refreshes a device token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.Token == "" {
		return apperrors.ValidationError("Push token is required")
	}
	if !token.Platform.Valid() {
		return apperrors.ValidationError(fmt.Sprintf("Unknown platform %q", token.Platform))
	}

	now := s.now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.Delete(ctx, userID, token)
}

// NotifyMissedCall tells the callee of an unanswered call who tried to reach them
func (s *Service) NotifyMissedCall(ctx context.Context, rec domain.CallRecord) error {
	tokens, err := s.repo.GetByUserID(ctx, rec.CalleeID)
	if err != nil {
		return fmt.Errorf("failed to get push tokens: %w", err)
	}
	if len(tokens) == 0 {
		logger.Debug("No push tokens for missed call",
			zap.String("call_id", rec.CallID.String()),
			zap.String("callee_id", rec.CalleeID.String()))
		return nil
	}

	callerName := rec.CallerName
	if callerName == "" {
		callerName = "Someone"
	}

	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "MISSED_CALL",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     rec.CallID.String(),
			"caller_id":   rec.CallerID.String(),
			"caller_name": rec.CallerName,
			"timestamp":   fmt.Sprintf("%d", rec.StartedAt.Unix()),
		},
	}

	values := make([]string, 0, len(tokens))
	owners := make(map[string]*Token, len(tokens))
	for _, t := range tokens {
		values = append(values, t.Token)
		owners[t.Token] = t
	}

	var result *SendResult
	err = s.breaker.Execute(ctx, "missed_call", func(ctx context.Context) error {
		var sendErr error
		result, sendErr = s.provider.Send(ctx, notification, values)
		return sendErr
	})
	if err != nil {
		s.metrics.RecordPushNotificationFailures("missed_call", s.provider.Name(), len(values))
		return fmt.Errorf("failed to send missed call notification: %w", err)
	}

	s.metrics.RecordPushNotifications("missed_call", s.provider.Name(), result.SuccessCount)
	s.metrics.RecordPushNotificationFailures("missed_call", s.provider.Name(), result.FailureCount)

	logger.Info("Missed call notification sent",
		zap.String("call_id", rec.CallID.String()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	for _, invalid := range result.InvalidTokens {
		t, ok := owners[invalid]
		if !ok {
			continue
		}
		if err := s.repo.Delete(ctx, t.UserID, t.Token); err != nil {
			logger.Warn("Failed to drop invalid push token",
				zap.String("token", maskPushToken(t.Token)),
				zap.Error(err))
		}
	}

	return nil
}

// maskPushToken returns a safe masked version of a push token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}
