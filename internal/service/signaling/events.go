package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
	"emphealth-backend/pkg/constants"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/sanitize"
)

// Inbound event names
const (
	EventUserJoined        = "user-joined"
	EventGetAvailableUsers = "get-available-users"
	EventInitiateCall      = "initiate-call"
	EventAcceptCall        = "accept-call"
	EventRejectCall        = "reject-call"
	EventEndCall           = "end-call"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventGetActiveCalls    = "get-active-calls"
)

// Outbound event names
const (
	EventYourInfo         = "your-info"
	EventAvailableUsers   = "available-users"
	EventIncomingCall     = "incoming-call"
	EventCallInitiated    = "call-initiated"
	EventCallAccepted     = "call-accepted"
	EventCallRejected     = "call-rejected"
	EventCallEnded        = "call-ended"
	EventUserDisconnected = "user-disconnected"
	EventCallError        = "call-error"
	EventUserStatusUpdate = "user-status-update"
	EventNewCall          = "new-call"
	EventCallStatusUpdate = "call-status-update"
	EventActiveCalls      = "active-calls"
)

// envelope is the frame layout in both directions
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one of the closed set of client events below
type Inbound interface {
	EventName() string
}

// UserJoined announces the identity behind a connection
type UserJoined struct {
	ID   uuid.UUID   `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

// GetAvailableUsers asks for the current counterpart pool
type GetAvailableUsers struct{}

// InitiateCall asks to ring another user.
// Signal optionally carries an initial session description for the callee.
type InitiateCall struct {
	CallerID   uuid.UUID       `json:"callerId"`
	CalleeID   uuid.UUID       `json:"calleeId"`
	CallerName string          `json:"callerName"`
	Signal     json.RawMessage `json:"signal,omitempty"`
}

// AcceptCall answers a ringing call
type AcceptCall struct {
	CallID uuid.UUID       `json:"callId"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// RejectCall declines a ringing call
type RejectCall struct {
	CallID uuid.UUID `json:"callId"`
}

// EndCall hangs up or cancels a call
type EndCall struct {
	CallID uuid.UUID `json:"callId"`
}

// Relay carries an offer, answer or ICE candidate for the peer of a call.
// CallID is required. Target is optional: the payload always goes to the
// other party of the call, and a non-empty Target that names any other
// connection is rejected with NOT_AUTHORIZED.
type Relay struct {
	Kind    string
	CallID  uuid.UUID
	Target  domain.ConnID
	Payload json.RawMessage
}

// GetActiveCalls asks for a snapshot of live calls (admins only)
type GetActiveCalls struct{}

func (UserJoined) EventName() string        { return EventUserJoined }
func (GetAvailableUsers) EventName() string { return EventGetAvailableUsers }
func (InitiateCall) EventName() string      { return EventInitiateCall }
func (AcceptCall) EventName() string        { return EventAcceptCall }
func (RejectCall) EventName() string        { return EventRejectCall }
func (EndCall) EventName() string           { return EventEndCall }
func (r Relay) EventName() string           { return r.Kind }
func (GetActiveCalls) EventName() string    { return EventGetActiveCalls }

// relayWire accepts the payload under its kind-specific key or under "payload"
type relayWire struct {
	CallID    uuid.UUID       `json:"callId"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

// relayKey is the payload field used on the wire for each relay kind
func relayKey(kind string) string {
	switch kind {
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	}
	return "candidate"
}

// DecodeInbound parses and validates one client frame
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.InvalidEventError("Malformed frame")
	}
	if env.Event == "" {
		return nil, apperrors.InvalidEventError("Missing event name")
	}

	switch env.Event {
	case EventUserJoined:
		var ev UserJoined
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		ev.Name = sanitize.DisplayName(ev.Name)
		if ev.ID == uuid.Nil {
			return nil, apperrors.InvalidEventError("user-joined requires id")
		}
		if !ev.Role.Valid() {
			return nil, apperrors.InvalidEventError(fmt.Sprintf("unknown role %q", ev.Role))
		}
		if !sanitize.ValidateStringLength(ev.Name, 0, constants.MaxDisplayNameLength) {
			return nil, apperrors.InvalidEventError("name is too long")
		}
		return ev, nil

	case EventGetAvailableUsers:
		return GetAvailableUsers{}, nil

	case EventGetActiveCalls:
		return GetActiveCalls{}, nil

	case EventInitiateCall:
		var ev InitiateCall
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		if ev.CalleeID == uuid.Nil {
			return nil, apperrors.InvalidEventError("initiate-call requires calleeId")
		}
		ev.CallerName = sanitize.DisplayName(ev.CallerName)
		return ev, nil

	case EventAcceptCall:
		var ev AcceptCall
		if err := decodeCallID(env, &ev, &ev.CallID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventRejectCall:
		var ev RejectCall
		if err := decodeCallID(env, &ev, &ev.CallID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventEndCall:
		var ev EndCall
		if err := decodeCallID(env, &ev, &ev.CallID); err != nil {
			return nil, err
		}
		return ev, nil

	case EventOffer, EventAnswer, EventICECandidate:
		var w relayWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		if w.CallID == uuid.Nil {
			return nil, apperrors.InvalidEventError(env.Event + " requires callId")
		}
		payload := w.Payload
		switch env.Event {
		case EventOffer:
			payload = firstPresent(w.Offer, payload)
		case EventAnswer:
			payload = firstPresent(w.Answer, payload)
		case EventICECandidate:
			payload = firstPresent(w.Candidate, payload)
		}
		if isEmptyJSON(payload) {
			return nil, apperrors.InvalidEventError(env.Event + " requires a payload")
		}
		return Relay{
			Kind:    env.Event,
			CallID:  w.CallID,
			Target:  domain.ConnID(w.Target),
			Payload: payload,
		}, nil
	}

	return nil, apperrors.InvalidEventError(fmt.Sprintf("unknown event %q", env.Event))
}

func decodeData(env envelope, v any) error {
	if isEmptyJSON(env.Data) {
		return apperrors.InvalidEventError(env.Event + " requires data")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return apperrors.InvalidEventError(fmt.Sprintf("invalid %s data", env.Event))
	}
	return nil
}

func decodeCallID(env envelope, v any, id *uuid.UUID) error {
	if err := decodeData(env, v); err != nil {
		return err
	}
	if *id == uuid.Nil {
		return apperrors.InvalidEventError(env.Event + " requires callId")
	}
	return nil
}

func firstPresent(a, b json.RawMessage) json.RawMessage {
	if !isEmptyJSON(a) {
		return a
	}
	return b
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Outbound is one server event addressed to a single connection
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders the frame
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// UserStatus is pushed to admins whenever a participant joins or leaves
type UserStatus struct {
	UserID   uuid.UUID   `json:"userId"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	IsOnline bool        `json:"isOnline"`
}

// IncomingCall rings the callee
type IncomingCall struct {
	CallID uuid.UUID        `json:"callId"`
	From   domain.CallParty `json:"from"`
	Name   string           `json:"name"`
	Signal json.RawMessage  `json:"signal,omitempty"`
}

// CallInitiated tells the caller which call ID was allocated
type CallInitiated struct {
	CallID uuid.UUID        `json:"callId"`
	Callee domain.CallParty `json:"callee"`
}

// CallAccepted is sent to both parties once the callee answers
type CallAccepted struct {
	CallID uuid.UUID       `json:"callId"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// CallRejected tells the caller the callee declined
type CallRejected struct {
	CallID uuid.UUID `json:"callId"`
}

// CallEnded closes a call for the receiving party
type CallEnded struct {
	CallID   uuid.UUID        `json:"callId"`
	Reason   domain.EndReason `json:"reason,omitempty"`
	Duration *int             `json:"duration,omitempty"`
}

// RelayedMessage forwards a negotiation payload, keyed the same way it arrived
type RelayedMessage struct {
	Kind    string
	CallID  uuid.UUID
	From    domain.ConnID
	Payload json.RawMessage
}

// MarshalJSON writes {callId, from, <offer|answer|candidate>}
func (m RelayedMessage) MarshalJSON() ([]byte, error) {
	body := map[string]any{"callId": m.CallID, "from": m.From}
	body[relayKey(m.Kind)] = m.Payload
	return json.Marshal(body)
}

// CallError reports a domain failure to the originating connection
type CallError struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	CallID  *uuid.UUID          `json:"callId,omitempty"`
}

// CallSnapshot is the admin view of a live call
type CallSnapshot struct {
	CallID     uuid.UUID         `json:"callId"`
	Caller     domain.CallParty  `json:"caller"`
	Callee     domain.CallParty  `json:"callee"`
	Status     domain.CallStatus `json:"status"`
	StartTime  time.Time         `json:"startTime"`
	AcceptedAt *time.Time        `json:"acceptedAt,omitempty"`
}
