package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

// UserRepository reads user profiles and maintains their presence columns
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.DirectoryUser, error) {
	query := `
		SELECT user_id, display_name, email, role, is_online, socket_id
		FROM users
		WHERE user_id = $1
	`

	user := &domain.DirectoryUser{}
	var role string
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Name,
		&user.Email,
		&role,
		&user.IsOnline,
		&user.SocketID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Role = domain.Role(role)

	return user, nil
}

// UpdatePresence sets the online flag and the socket handle of a user.
// A nil socketID clears the column.
func (r *UserRepository) UpdatePresence(ctx context.Context, userID uuid.UUID, online bool, socketID *string) error {
	query := `
		UPDATE users
		SET is_online = $2, socket_id = $3, updated_at = now()
		WHERE user_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, online, socketID)
	if err != nil {
		return fmt.Errorf("failed to update user presence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.UserNotFoundError()
	}

	return nil
}
