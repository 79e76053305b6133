package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"emphealth-backend/internal/database"
	"emphealth-backend/pkg/constants"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/push"
)

func tokenKey(token string) string {
	return fmt.Sprintf("push:token:%s", token)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// PushTokenRepository handles push notification token storage in Redis
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// Store stores a push notification token. A token re-registered by another
// user moves to that user.
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	previous, err := r.get(ctx, token.Token)
	if err != nil {
		return err
	}

	err = r.client.SafeTxPipelined(ctx, "push_token_store", func(pipe redis.Pipeliner) error {
		if previous != nil && previous.UserID != token.UserID {
			pipe.SRem(ctx, userTokensKey(previous.UserID), token.Token)
		}
		pipe.Set(ctx, tokenKey(token.Token), data, constants.PushTokenExpiry)
		pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
		pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	logger.Debug("Push token stored",
		zap.String("user_id", token.UserID.String()),
		zap.String("platform", string(token.Platform)))

	return nil
}

func (r *PushTokenRepository) get(ctx context.Context, token string) (*push.Token, error) {
	data, err := r.client.SafeGet(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var t push.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &t, nil
}

// GetByUserID retrieves all live tokens of a user. Set members whose token
// key expired are pruned.
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	members, err := r.client.SafeSMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	result := make([]*push.Token, 0, len(members))
	var stale []interface{}
	for _, value := range members {
		t, err := r.get(ctx, value)
		if err != nil {
			logger.Warn("Failed to get token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if t == nil || t.UserID != userID {
			stale = append(stale, value)
			continue
		}
		result = append(result, t)
	}

	if len(stale) > 0 {
		if err := r.client.SafeSRem(ctx, userTokensKey(userID), stale...).Err(); err != nil {
			logger.Warn("Failed to prune stale push tokens",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	return result, nil
}

// Delete removes a token owned by userID
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, token string) error {
	existing, err := r.get(ctx, token)
	if err != nil {
		return err
	}
	if existing == nil || existing.UserID != userID {
		return apperrors.NotFoundError("Push token")
	}

	err = r.client.SafeTxPipelined(ctx, "push_token_delete", func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(token))
		pipe.SRem(ctx, userTokensKey(userID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	logger.Debug("Push token deleted", zap.String("user_id", userID.String()))
	return nil
}
