package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEventOf(t *testing.T) {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	accepted := started.Add(5 * time.Second)
	ended := accepted.Add(time.Minute)
	duration := 60

	rec := CallRecord{
		CallID:    uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Status:    CallStatusInitiated,
		Revision:  1,
		StartedAt: started,
	}
	assert.Equal(t, started, EventOf(rec).OccurredAt)

	rec.Status = CallStatusAccepted
	rec.Revision = 2
	rec.AcceptedAt = &accepted
	assert.Equal(t, accepted, EventOf(rec).OccurredAt)

	rec.Status = CallStatusEnded
	rec.EndReason = EndReasonHangup
	rec.Revision = 3
	rec.EndedAt = &ended
	rec.DurationSeconds = &duration

	ev := EventOf(rec)
	assert.Equal(t, ended, ev.OccurredAt)
	assert.Equal(t, rec.CallID, ev.CallID)
	assert.Equal(t, 3, ev.Revision)
	assert.Equal(t, EndReasonHangup, ev.EndReason)
	assert.Equal(t, &duration, ev.DurationSeconds)
}

func TestCallStatusIsTerminal(t *testing.T) {
	assert.False(t, CallStatusInitiated.IsTerminal())
	assert.False(t, CallStatusAccepted.IsTerminal())
	assert.True(t, CallStatusRejected.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusExpired.IsTerminal())
}

func TestRoleCounterpart(t *testing.T) {
	r, ok := RoleDoctor.Counterpart()
	assert.True(t, ok)
	assert.Equal(t, RoleEmployee, r)

	r, ok = RoleEmployee.Counterpart()
	assert.True(t, ok)
	assert.Equal(t, RoleDoctor, r)

	_, ok = RoleAdmin.Counterpart()
	assert.False(t, ok)
	assert.False(t, Role("nurse").Valid())
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	named := &DirectoryUser{Name: "Sam", Email: "sam@example.com"}
	unnamed := &DirectoryUser{Email: "sam@example.com"}

	assert.Equal(t, "Sam", named.DisplayName())
	assert.Equal(t, "sam@example.com", unnamed.DisplayName())
}
