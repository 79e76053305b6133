package signaling

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
)

// UserLookup resolves a user from the directory
type UserLookup interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.DirectoryUser, error)
}

// IdentityResolver checks an announced identity before it reaches the
// controller. It runs on the connection's goroutine, never on the event loop.
type IdentityResolver struct {
	users UserLookup
}

// NewIdentityResolver creates a resolver. users may be nil when no
// directory is available, in which case announcements are trusted.
func NewIdentityResolver(users UserLookup) *IdentityResolver {
	return &IdentityResolver{users: users}
}

// Resolve binds ev to the authenticated subject (if any) and replaces the
// announced role and name with the directory's values.
func (r *IdentityResolver) Resolve(ctx context.Context, subject *uuid.UUID, ev UserJoined) (UserJoined, error) {
	if subject != nil && *subject != ev.ID {
		return ev, apperrors.NotAuthorizedError("Announced id does not match the authenticated user")
	}
	if r == nil || r.users == nil {
		return ev, nil
	}

	user, err := r.users.GetUser(ctx, ev.ID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUserNotFound) {
			return ev, apperrors.NotAuthorizedError("Unknown user")
		}
		logger.Warn("Directory lookup failed, trusting announced identity",
			zap.String("user_id", ev.ID.String()),
			zap.Error(err))
		return ev, nil
	}

	if user.Role.Valid() {
		ev.Role = user.Role
	}
	if name := user.DisplayName(); name != "" {
		ev.Name = name
	}
	return ev, nil
}
