package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call attempt
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusExpired   CallStatus = "expired"
)

// IsTerminal reports whether no further transition is possible
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusRejected, CallStatusEnded, CallStatusExpired:
		return true
	}
	return false
}

// EndReason explains why a call reached a terminal status
type EndReason string

const (
	EndReasonNone       EndReason = ""
	EndReasonHangup     EndReason = "hangup"
	EndReasonRejected   EndReason = "rejected"
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonExpired    EndReason = "expired"
)

// CallParty identifies one side of a call
type CallParty struct {
	UserID uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	ConnID ConnID    `json:"socketId"`
}

// CallRecord is the durable view of a call attempt.
// Revision increases by one on every transition so stores can discard stale writes.
type CallRecord struct {
	CallID          uuid.UUID  `json:"call_id"`
	CallerID        uuid.UUID  `json:"caller_id"`
	CallerName      string     `json:"caller_name"`
	CalleeID        uuid.UUID  `json:"callee_id"`
	CalleeName      string     `json:"callee_name"`
	Status          CallStatus `json:"status"`
	EndReason       EndReason  `json:"end_reason,omitempty"`
	Revision        int        `json:"revision"`
	StartedAt       time.Time  `json:"started_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// CallEvent is one journaled transition of a call
type CallEvent struct {
	CallID          uuid.UUID  `json:"call_id"`
	Revision        int        `json:"revision"`
	Status          CallStatus `json:"status"`
	EndReason       EndReason  `json:"end_reason,omitempty"`
	CallerID        uuid.UUID  `json:"caller_id"`
	CalleeID        uuid.UUID  `json:"callee_id"`
	OccurredAt      time.Time  `json:"occurred_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// EventOf derives the journal entry for the transition that produced rec
func EventOf(rec CallRecord) CallEvent {
	at := rec.StartedAt
	switch {
	case rec.EndedAt != nil:
		at = *rec.EndedAt
	case rec.AcceptedAt != nil:
		at = *rec.AcceptedAt
	}
	return CallEvent{
		CallID:          rec.CallID,
		Revision:        rec.Revision,
		Status:          rec.Status,
		EndReason:       rec.EndReason,
		CallerID:        rec.CallerID,
		CalleeID:        rec.CalleeID,
		OccurredAt:      at,
		DurationSeconds: rec.DurationSeconds,
	}
}
