package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
	"emphealth-backend/pkg/cache"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/tracing"
)

// UserStore is the persistent user directory
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.DirectoryUser, error)
	UpdatePresence(ctx context.Context, userID uuid.UUID, online bool, socketID *string) error
}

// PresenceStore publishes cross-process online flags
type PresenceStore interface {
	SetUserOnline(ctx context.Context, p domain.Participant) error
	SetUserOffline(ctx context.Context, userID uuid.UUID, role domain.Role) error
	GetOnlineCount(ctx context.Context) (int64, error)
}

// Service adapts the user directory and presence flags for the signaling layer.
// Either store may be nil when its backend is unavailable.
type Service struct {
	users    UserStore
	presence PresenceStore
	metrics  *metrics.Metrics
	profiles *cache.MemoryCache[uuid.UUID, domain.DirectoryUser]
}

// NewService creates a new directory service
func NewService(users UserStore, presence PresenceStore, m *metrics.Metrics) *Service {
	return &Service{users: users, presence: presence, metrics: m}
}

// EnableProfileCache keeps looked-up profiles in memory for ttl.
// Presence updates invalidate the affected entry.
func (s *Service) EnableProfileCache(ctx context.Context, ttl time.Duration, maxSize int) {
	s.profiles = cache.NewMemoryCache[uuid.UUID, domain.DirectoryUser]("user_profiles", ttl, maxSize, s.metrics)
	s.profiles.StartCleanup(ctx, ttl)
}

// GetUser looks up a user profile
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.DirectoryUser, error) {
	if s.users == nil {
		return nil, apperrors.ServiceUnavailableError("User directory is unavailable")
	}
	if s.profiles != nil {
		if cached, ok := s.profiles.Get(userID); ok {
			return &cached, nil
		}
	}

	ctx, span := tracing.TraceStoreOperation(ctx, "cockroach", "get_user",
		tracing.UserIDKey.String(userID.String()))
	defer span.End()

	start := time.Now()
	user, err := s.users.GetByID(ctx, userID)
	if apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
		s.metrics.RecordDBQuery("cockroach", "get_user", time.Since(start), nil)
		return nil, err
	}
	s.metrics.RecordDBQuery("cockroach", "get_user", time.Since(start), err)
	tracing.RecordError(span, err)
	if err == nil && user != nil && s.profiles != nil {
		s.profiles.Set(userID, *user)
	}
	return user, err
}

// MarkOnline records that p holds a live connection
func (s *Service) MarkOnline(ctx context.Context, p domain.Participant) error {
	socketID := p.ConnID.String()
	return s.update(ctx, "mark_online", p.UserID,
		func(ctx context.Context) error { return s.users.UpdatePresence(ctx, p.UserID, true, &socketID) },
		func(ctx context.Context) error { return s.presence.SetUserOnline(ctx, p) },
	)
}

// MarkOffline records that the user's last connection is gone
func (s *Service) MarkOffline(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	return s.update(ctx, "mark_offline", userID,
		func(ctx context.Context) error { return s.users.UpdatePresence(ctx, userID, false, nil) },
		func(ctx context.Context) error { return s.presence.SetUserOffline(ctx, userID, role) },
	)
}

func (s *Service) update(ctx context.Context, operation string, userID uuid.UUID, toUsers, toPresence func(context.Context) error) error {
	var errs []error

	if s.profiles != nil {
		s.profiles.Delete(userID)
	}

	if s.users != nil {
		errs = append(errs, s.traced(ctx, "cockroach", operation, userID, toUsers))
	}
	if s.presence != nil {
		errs = append(errs, s.traced(ctx, "redis", operation, userID, toPresence))
	}

	return errors.Join(errs...)
}

func (s *Service) traced(ctx context.Context, store, operation string, userID uuid.UUID, fn func(context.Context) error) error {
	ctx, span := tracing.TraceStoreOperation(ctx, store, operation,
		tracing.UserIDKey.String(userID.String()))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordDBQuery(store, operation, time.Since(start), err)
	tracing.RecordError(span, err)
	return err
}

// OnlineCount returns the number of users online across every process.
// The second result is false when the count is unavailable.
func (s *Service) OnlineCount(ctx context.Context) (int64, bool) {
	if s.presence == nil {
		return 0, false
	}
	count, err := s.presence.GetOnlineCount(ctx)
	if err != nil {
		return 0, false
	}
	return count, true
}
