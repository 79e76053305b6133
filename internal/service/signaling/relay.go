package signaling

import (
	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

// handleRelay forwards a negotiation payload to the other party of a live call
func (c *Controller) handleRelay(conn domain.ConnID, ev Relay) error {
	s, err := c.sessions.Get(ev.CallID)
	if err != nil {
		return err
	}
	peer, ok := s.Peer(conn)
	if !ok {
		return apperrors.NotAuthorizedError("Not a party of this call")
	}
	if ev.Target != "" && ev.Target != peer.ConnID {
		return apperrors.NotAuthorizedError("Target is not the other party of this call")
	}

	c.send(peer.ConnID, ev.Kind, RelayedMessage{
		Kind:    ev.Kind,
		CallID:  s.ID,
		From:    conn,
		Payload: ev.Payload,
	})
	return nil
}
