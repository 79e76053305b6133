package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"emphealth-backend/internal/database"
	"emphealth-backend/internal/domain"
)

const onlineSetKey = "presence:online"

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

func onlineRoleKey(role domain.Role) string {
	return fmt.Sprintf("presence:online:%s", role)
}

// PresenceRepository publishes user online/offline flags in Redis so other
// processes can read them. The flags are informational.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetUserOnline marks user as online
func (r *PresenceRepository) SetUserOnline(ctx context.Context, p domain.Participant) error {
	err := r.client.SafeTxPipelined(ctx, "presence_online", func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(p.UserID),
			"role", string(p.Role),
			"name", p.DisplayName,
			"socket_id", p.ConnID.String(),
			"since", p.JoinedAt.UTC().Format(time.RFC3339),
		)
		pipe.SAdd(ctx, onlineSetKey, p.UserID.String())
		pipe.SAdd(ctx, onlineRoleKey(p.Role), p.UserID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetUserOffline marks user as offline
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	err := r.client.SafeTxPipelined(ctx, "presence_offline", func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(userID))
		pipe.SRem(ctx, onlineSetKey, userID.String())
		pipe.SRem(ctx, onlineRoleKey(role), userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

// IsUserOnline checks if user is currently online in any process
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	fields, err := r.client.SafeHGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return len(fields) > 0, nil
}

// GetOnlineUsers retrieves online user IDs, optionally restricted to one role
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context, role domain.Role) ([]uuid.UUID, error) {
	key := onlineSetKey
	if role != "" {
		key = onlineRoleKey(role)
	}

	userIDStrs, err := r.client.SafeSMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(userIDStrs))
	for _, idStr := range userIDStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// GetOnlineCount returns number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
