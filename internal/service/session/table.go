package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

// Table maps call IDs to live sessions. Like the presence registry it is
// owned by a single goroutine and does no locking.
type Table struct {
	sessions map[uuid.UUID]*CallSession
	newID    func() uuid.UUID
}

// NewTable creates an empty session table
func NewTable() *Table {
	return &Table{
		sessions: make(map[uuid.UUID]*CallSession),
		newID:    uuid.New,
	}
}

// Create allocates a session in the initiated state.
// A pair of connections may share at most one live session, and a
// connection that is already on a call cannot start or receive another.
func (t *Table) Create(caller, callee domain.CallParty, now time.Time) (*CallSession, error) {
	if caller.ConnID == callee.ConnID {
		return nil, apperrors.InvalidInputError("Cannot call yourself")
	}
	if t.BusyConn(callee.ConnID) {
		return nil, apperrors.TargetBusyError()
	}
	if t.BusyConn(caller.ConnID) {
		return nil, apperrors.InvalidStateError("Caller is already in a call")
	}

	id := t.newID()
	for t.sessions[id] != nil {
		id = t.newID()
	}
	s := newCallSession(id, caller, callee, now)
	t.sessions[id] = s
	return s, nil
}

// Get returns the live session with the given ID
func (t *Table) Get(id uuid.UUID) (*CallSession, error) {
	s, ok := t.sessions[id]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return s, nil
}

// Remove drops the session from the table
func (t *Table) Remove(id uuid.UUID) {
	delete(t.sessions, id)
}

// ByConn returns every live session in which conn takes part, oldest first
func (t *Table) ByConn(conn domain.ConnID) []*CallSession {
	var out []*CallSession
	for _, s := range t.sessions {
		if s.Involves(conn) {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// BusyConn reports whether conn is part of any live session
func (t *Table) BusyConn(conn domain.ConnID) bool {
	for _, s := range t.sessions {
		if s.Involves(conn) {
			return true
		}
	}
	return false
}

// Len returns the number of live sessions
func (t *Table) Len() int {
	return len(t.sessions)
}

// Sessions returns every live session, oldest first
func (t *Table) Sessions() []*CallSession {
	all := make([]*CallSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	sortByStart(all)
	return all
}

func sortByStart(s []*CallSession) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].ID.String() < s[j].ID.String()
		}
		return s[i].StartedAt.Before(s[j].StartedAt)
	})
}
