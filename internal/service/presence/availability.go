package presence

import (
	"slices"

	"emphealth-backend/internal/domain"
)

// AvailableFor returns the counterpart pool visible to a participant of the
// given role. Doctors see employees, employees see doctors and admins see
// every non-admin participant.
func (r *Registry) AvailableFor(role domain.Role) []domain.Participant {
	if role == domain.RoleAdmin {
		return append(
			slices.Collect(r.ListByRole(domain.RoleDoctor)),
			slices.Collect(r.ListByRole(domain.RoleEmployee))...,
		)
	}
	counterpart, ok := role.Counterpart()
	if !ok {
		return []domain.Participant{}
	}
	return slices.Collect(r.ListByRole(counterpart))
}

// Audience returns the connections that must receive a fresh availability
// view after a participant of the given role joins or leaves.
func (r *Registry) Audience(role domain.Role) []domain.ConnID {
	counterpart, ok := role.Counterpart()
	if !ok {
		return nil
	}
	var conns []domain.ConnID
	for p := range r.ListByRole(counterpart) {
		conns = append(conns, p.ConnID)
	}
	return conns
}

// Admins returns the connections of every registered admin
func (r *Registry) Admins() []domain.ConnID {
	var conns []domain.ConnID
	for p := range r.ListByRole(domain.RoleAdmin) {
		conns = append(conns, p.ConnID)
	}
	return conns
}
