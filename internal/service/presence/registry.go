// Package presence keeps the in-memory table of live connections and the
// role-filtered availability view derived from it.
//
// A Registry is not safe for concurrent use; it is owned by the signaling
// controller's event loop.
package presence

import (
	"iter"
	"sort"

	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
)

// Registry maps live connection handles to participants
type Registry struct {
	byConn map[domain.ConnID]*domain.Participant
	// seq orders registrations so the latest entry of a user wins
	seq     uint64
	regSeqs map[domain.ConnID]uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byConn:  make(map[domain.ConnID]*domain.Participant),
		regSeqs: make(map[domain.ConnID]uint64),
	}
}

// Register inserts or overwrites the entry for conn
func (r *Registry) Register(conn domain.ConnID, p domain.Participant) {
	p.ConnID = conn
	r.seq++
	r.byConn[conn] = &p
	r.regSeqs[conn] = r.seq
}

// Unregister removes the entry for conn and returns it
func (r *Registry) Unregister(conn domain.ConnID) (domain.Participant, bool) {
	p, ok := r.byConn[conn]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.byConn, conn)
	delete(r.regSeqs, conn)
	return *p, true
}

// Get returns the participant registered on conn
func (r *Registry) Get(conn domain.ConnID) (domain.Participant, bool) {
	p, ok := r.byConn[conn]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return len(r.byConn)
}

// ConnsOf returns every handle currently registered for userID, oldest first
func (r *Registry) ConnsOf(userID uuid.UUID) []domain.ConnID {
	var conns []domain.ConnID
	for conn, p := range r.byConn {
		if p.UserID == userID {
			conns = append(conns, conn)
		}
	}
	sort.Slice(conns, func(i, j int) bool {
		return r.regSeqs[conns[i]] < r.regSeqs[conns[j]]
	})
	return conns
}

// Latest returns the most recently registered participant for userID
func (r *Registry) Latest(userID uuid.UUID) (domain.Participant, bool) {
	conns := r.ConnsOf(userID)
	if len(conns) == 0 {
		return domain.Participant{}, false
	}
	return *r.byConn[conns[len(conns)-1]], true
}

// ListByRole yields a snapshot of participants with the given role in
// registration order. The snapshot is taken when iteration starts, so the
// sequence can be ranged over again to observe later changes.
func (r *Registry) ListByRole(role domain.Role) iter.Seq[domain.Participant] {
	return func(yield func(domain.Participant) bool) {
		for _, p := range r.snapshot(func(p *domain.Participant) bool { return p.Role == role }) {
			if !yield(p) {
				return
			}
		}
	}
}

// All yields a snapshot of every participant in registration order
func (r *Registry) All() iter.Seq[domain.Participant] {
	return func(yield func(domain.Participant) bool) {
		for _, p := range r.snapshot(func(*domain.Participant) bool { return true }) {
			if !yield(p) {
				return
			}
		}
	}
}

// CountByRole returns how many participants are registered per role
func (r *Registry) CountByRole() map[domain.Role]int {
	counts := make(map[domain.Role]int, 3)
	for _, p := range r.byConn {
		counts[p.Role]++
	}
	return counts
}

func (r *Registry) snapshot(keep func(*domain.Participant) bool) []domain.Participant {
	out := make([]domain.Participant, 0, len(r.byConn))
	for _, p := range r.byConn {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.regSeqs[out[i].ConnID] < r.regSeqs[out[j].ConnID]
	})
	return out
}
