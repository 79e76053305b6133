package domain

import (
	"github.com/google/uuid"
)

// DirectoryUser is the subset of a user profile the call service reads.
// Maps to CockroachDB users table
type DirectoryUser struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Name     string    `json:"name" db:"name"`
	Email    string    `json:"email" db:"email"`
	Role     Role      `json:"role" db:"role"`
	IsOnline bool      `json:"is_online" db:"is_online"`
	SocketID *string   `json:"socket_id,omitempty" db:"socket_id"`
}

// DisplayName returns the name shown to other participants
func (u *DirectoryUser) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
