// Package session holds the live call sessions and enforces the call
// lifecycle: initiated → accepted → ended, initiated → rejected,
// initiated → expired, and forced ends on disconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

const (
	eventAccept = "accept"
	eventReject = "reject"
	eventEnd    = "end"
	eventExpire = "expire"
)

func newMachine() *fsm.FSM {
	initiated := string(domain.CallStatusInitiated)
	accepted := string(domain.CallStatusAccepted)
	return fsm.NewFSM(
		initiated,
		fsm.Events{
			{Name: eventAccept, Src: []string{initiated}, Dst: accepted},
			{Name: eventReject, Src: []string{initiated}, Dst: string(domain.CallStatusRejected)},
			{Name: eventEnd, Src: []string{initiated, accepted}, Dst: string(domain.CallStatusEnded)},
			{Name: eventExpire, Src: []string{initiated}, Dst: string(domain.CallStatusExpired)},
		},
		fsm.Callbacks{},
	)
}

// CallSession is the in-memory lifecycle record of one call attempt
type CallSession struct {
	ID         uuid.UUID
	Caller     domain.CallParty
	Callee     domain.CallParty
	StartedAt  time.Time
	AcceptedAt *time.Time
	EndedAt    *time.Time
	Reason     domain.EndReason

	revision int
	machine  *fsm.FSM
}

func newCallSession(id uuid.UUID, caller, callee domain.CallParty, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		StartedAt: now,
		revision:  1,
		machine:   newMachine(),
	}
}

// Status returns the current lifecycle state
func (s *CallSession) Status() domain.CallStatus {
	return domain.CallStatus(s.machine.Current())
}

// Revision increases by one on every applied transition
func (s *CallSession) Revision() int {
	return s.revision
}

// Accept moves an initiated call to accepted
func (s *CallSession) Accept(now time.Time) error {
	if err := s.fire(eventAccept); err != nil {
		return err
	}
	s.AcceptedAt = &now
	return nil
}

// Reject moves an initiated call to rejected
func (s *CallSession) Reject(now time.Time) error {
	if err := s.fire(eventReject); err != nil {
		return err
	}
	s.EndedAt = &now
	s.Reason = domain.EndReasonRejected
	return nil
}

// End terminates an initiated or accepted call
func (s *CallSession) End(now time.Time, reason domain.EndReason) error {
	if err := s.fire(eventEnd); err != nil {
		return err
	}
	s.EndedAt = &now
	s.Reason = reason
	return nil
}

// Expire terminates a call that rang without an answer
func (s *CallSession) Expire(now time.Time) error {
	if err := s.fire(eventExpire); err != nil {
		return err
	}
	s.EndedAt = &now
	s.Reason = domain.EndReasonExpired
	return nil
}

func (s *CallSession) fire(event string) error {
	from := s.Status()
	if err := s.machine.Event(context.Background(), event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return apperrors.InvalidStateError(fmt.Sprintf("Cannot %s a call that is %s", event, from))
		}
		return apperrors.InternalError(fmt.Sprintf("call transition %s failed: %v", event, err))
	}
	s.revision++
	return nil
}

// DurationSeconds is the whole seconds between acceptance and end.
// It is nil unless the call ended after being accepted.
func (s *CallSession) DurationSeconds() *int {
	if s.Status() != domain.CallStatusEnded || s.AcceptedAt == nil || s.EndedAt == nil {
		return nil
	}
	d := int(s.EndedAt.Sub(*s.AcceptedAt) / time.Second)
	return &d
}

// Involves reports whether conn is the caller's or the callee's handle
func (s *CallSession) Involves(conn domain.ConnID) bool {
	return s.Caller.ConnID == conn || s.Callee.ConnID == conn
}

// Peer returns the party on the other side of conn
func (s *CallSession) Peer(conn domain.ConnID) (domain.CallParty, bool) {
	switch conn {
	case s.Caller.ConnID:
		return s.Callee, true
	case s.Callee.ConnID:
		return s.Caller, true
	}
	return domain.CallParty{}, false
}

// Record returns the durable view of the session
func (s *CallSession) Record() domain.CallRecord {
	return domain.CallRecord{
		CallID:          s.ID,
		CallerID:        s.Caller.UserID,
		CallerName:      s.Caller.Name,
		CalleeID:        s.Callee.UserID,
		CalleeName:      s.Callee.Name,
		Status:          s.Status(),
		EndReason:       s.Reason,
		Revision:        s.revision,
		StartedAt:       s.StartedAt,
		AcceptedAt:      s.AcceptedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds(),
	}
}
