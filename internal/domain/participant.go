package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnID is the opaque handle of one live client transport session
type ConnID string

// NewConnID allocates a fresh connection handle
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

func (c ConnID) String() string {
	return string(c)
}

// Role is the organisational role of a user
type Role string

const (
	RoleDoctor   Role = "doctor"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}

// Counterpart returns the role whose members r may call.
// Admins are not part of the calling pool.
func (r Role) Counterpart() (Role, bool) {
	switch r {
	case RoleDoctor:
		return RoleEmployee, true
	case RoleEmployee:
		return RoleDoctor, true
	}
	return "", false
}

// Participant is the presence record of a user tied to one connection
type Participant struct {
	UserID      uuid.UUID `json:"id"`
	DisplayName string    `json:"name"`
	Role        Role      `json:"role"`
	ConnID      ConnID    `json:"socketId"`
	JoinedAt    time.Time `json:"joinedAt"`
}
