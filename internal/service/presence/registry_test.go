package presence

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emphealth-backend/internal/domain"
)

func participant(role domain.Role, name string) domain.Participant {
	return domain.Participant{
		UserID:      uuid.New(),
		DisplayName: name,
		Role:        role,
		JoinedAt:    time.Now(),
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := participant(domain.RoleDoctor, "Dr. Who")

	r.Register("c1", p)

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, domain.ConnID("c1"), got.ConnID)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterOverwritesSameConn(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", participant(domain.RoleDoctor, "first"))
	r.Register("c1", participant(domain.RoleEmployee, "second"))

	assert.Equal(t, 1, r.Len())
	assert.Empty(t, slices.Collect(r.ListByRole(domain.RoleDoctor)))
	employees := slices.Collect(r.ListByRole(domain.RoleEmployee))
	require.Len(t, employees, 1)
	assert.Equal(t, "second", employees[0].DisplayName)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	p := participant(domain.RoleEmployee, "E")
	r.Register("c1", p)

	removed, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, p.UserID, removed.UserID)

	_, ok = r.Unregister("c1")
	assert.False(t, ok)
	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestListByRoleMatchesRegistrySet(t *testing.T) {
	r := NewRegistry()
	live := map[domain.ConnID]domain.Participant{}

	ops := []struct {
		register bool
		conn     domain.ConnID
		role     domain.Role
	}{
		{true, "a", domain.RoleDoctor},
		{true, "b", domain.RoleEmployee},
		{true, "c", domain.RoleDoctor},
		{false, "a", ""},
		{true, "d", domain.RoleAdmin},
		{true, "a", domain.RoleEmployee},
		{false, "c", ""},
		{false, "zz", ""},
		{true, "e", domain.RoleDoctor},
	}

	for _, op := range ops {
		if op.register {
			p := participant(op.role, string(op.conn))
			r.Register(op.conn, p)
			p.ConnID = op.conn
			live[op.conn] = p
		} else {
			r.Unregister(op.conn)
			delete(live, op.conn)
		}

		for _, role := range []domain.Role{domain.RoleDoctor, domain.RoleEmployee, domain.RoleAdmin} {
			var want []domain.ConnID
			for conn, p := range live {
				if p.Role == role {
					want = append(want, conn)
				}
			}
			var got []domain.ConnID
			for p := range r.ListByRole(role) {
				got = append(got, p.ConnID)
			}
			assert.ElementsMatch(t, want, got, "role %s", role)
		}
	}
}

func TestListByRoleIsRestartable(t *testing.T) {
	r := NewRegistry()
	r.Register("d1", participant(domain.RoleDoctor, "one"))
	doctors := r.ListByRole(domain.RoleDoctor)

	assert.Len(t, slices.Collect(doctors), 1)

	r.Register("d2", participant(domain.RoleDoctor, "two"))
	assert.Len(t, slices.Collect(doctors), 2)

	for range doctors {
		break
	}
}

func TestLatestPicksMostRecentRegistration(t *testing.T) {
	r := NewRegistry()
	p := participant(domain.RoleDoctor, "D")

	r.Register("old", p)
	r.Register("new", p)

	latest, ok := r.Latest(p.UserID)
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("new"), latest.ConnID)
	assert.Equal(t, []domain.ConnID{"old", "new"}, r.ConnsOf(p.UserID))

	r.Unregister("new")
	latest, ok = r.Latest(p.UserID)
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("old"), latest.ConnID)

	_, ok = r.Latest(uuid.New())
	assert.False(t, ok)
}

func TestAvailableFor(t *testing.T) {
	r := NewRegistry()
	r.Register("d1", participant(domain.RoleDoctor, "D"))
	r.Register("e1", participant(domain.RoleEmployee, "E"))
	r.Register("a1", participant(domain.RoleAdmin, "A"))

	conns := func(ps []domain.Participant) []domain.ConnID {
		var out []domain.ConnID
		for _, p := range ps {
			out = append(out, p.ConnID)
		}
		return out
	}

	assert.Equal(t, []domain.ConnID{"e1"}, conns(r.AvailableFor(domain.RoleDoctor)))
	assert.Equal(t, []domain.ConnID{"d1"}, conns(r.AvailableFor(domain.RoleEmployee)))
	assert.Equal(t, []domain.ConnID{"d1", "e1"}, conns(r.AvailableFor(domain.RoleAdmin)))
	assert.NotNil(t, r.AvailableFor(domain.Role("nurse")))
}

func TestAudienceAndAdmins(t *testing.T) {
	r := NewRegistry()
	r.Register("d1", participant(domain.RoleDoctor, "D"))
	r.Register("e1", participant(domain.RoleEmployee, "E1"))
	r.Register("e2", participant(domain.RoleEmployee, "E2"))
	r.Register("a1", participant(domain.RoleAdmin, "A"))

	assert.Equal(t, []domain.ConnID{"e1", "e2"}, r.Audience(domain.RoleDoctor))
	assert.Equal(t, []domain.ConnID{"d1"}, r.Audience(domain.RoleEmployee))
	assert.Nil(t, r.Audience(domain.RoleAdmin))
	assert.Equal(t, []domain.ConnID{"a1"}, r.Admins())

	counts := r.CountByRole()
	assert.Equal(t, 2, counts[domain.RoleEmployee])
	assert.Equal(t, 1, counts[domain.RoleAdmin])
}
