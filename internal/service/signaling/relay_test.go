package signaling

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

func TestRelayForwardsToPeer(t *testing.T) {
	h := newHarness(t)
	e := newUser("employee", domain.RoleEmployee)
	d := newUser("doctor", domain.RoleDoctor)
	h.join(e)
	h.join(d)
	callID := h.call(t, e, d)
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	h.ctrl.handle(e.conn, Relay{Kind: EventOffer, CallID: callID, Payload: sdp})

	msg := h.sender.last(t, d.conn, EventOffer)
	relayed := msg.Data.(RelayedMessage)
	assert.Equal(t, e.conn, relayed.From)
	assert.Equal(t, callID, relayed.CallID)
	assert.JSONEq(t, string(sdp), string(relayed.Payload))

	raw, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"offer","data":{"callId":"`+callID.String()+`","from":"conn-employee","offer":{"type":"offer","sdp":"v=0"}}}`, string(raw))

	h.ctrl.handle(d.conn, Relay{Kind: EventICECandidate, CallID: callID, Target: e.conn, Payload: json.RawMessage(`{"candidate":"a"}`)})
	assert.Len(t, h.sender.of(e.conn, EventICECandidate), 1)
	assert.Empty(t, h.sender.of(d.conn, EventICECandidate))
}

func TestRelayRejectsOutsiders(t *testing.T) {
	h := newHarness(t)
	e := newUser("employee", domain.RoleEmployee)
	d := newUser("doctor", domain.RoleDoctor)
	x := newUser("intruder", domain.RoleEmployee)
	h.join(e)
	h.join(d)
	h.join(x)
	callID := h.call(t, e, d)
	payload := json.RawMessage(`{"sdp":"x"}`)

	h.ctrl.handle(x.conn, Relay{Kind: EventAnswer, CallID: callID, Payload: payload})
	assert.Equal(t, apperrors.ErrCodeNotAuthorized, h.lastError(t, x.conn).Code)

	h.ctrl.handle(e.conn, Relay{Kind: EventOffer, CallID: callID, Target: x.conn, Payload: payload})
	assert.Equal(t, apperrors.ErrCodeNotAuthorized, h.lastError(t, e.conn).Code)

	h.ctrl.handle(e.conn, Relay{Kind: EventOffer, CallID: uuid.New(), Payload: payload})
	assert.Equal(t, apperrors.ErrCodeCallNotFound, h.lastError(t, e.conn).Code)

	assert.Empty(t, h.sender.of(x.conn, EventOffer))
	assert.Empty(t, h.sender.of(d.conn, EventAnswer))
	assert.Empty(t, h.sender.of(d.conn, EventOffer))
}

func TestRelayAfterCallEnded(t *testing.T) {
	h := newHarness(t)
	e := newUser("employee", domain.RoleEmployee)
	d := newUser("doctor", domain.RoleDoctor)
	h.join(e)
	h.join(d)
	callID := h.call(t, e, d)
	h.ctrl.handle(e.conn, EndCall{CallID: callID})

	h.ctrl.handle(e.conn, Relay{Kind: EventOffer, CallID: callID, Payload: json.RawMessage(`{}`)})

	assert.Equal(t, apperrors.ErrCodeCallNotFound, h.lastError(t, e.conn).Code)
	assert.Empty(t, h.sender.of(d.conn, EventOffer))
}
