package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/service/session"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
)

func (c *Controller) handleJoin(conn domain.ConnID, ev UserJoined) error {
	current, rejoin := c.presence.Get(conn)
	if rejoin && current.UserID != ev.ID {
		return apperrors.NotAuthorizedError("Connection already joined as another user")
	}

	// A newer connection replaces any older one of the same user
	for _, stale := range c.presence.ConnsOf(ev.ID) {
		if stale == conn {
			continue
		}
		logger.Info("Evicting stale connection",
			zap.String("user_id", ev.ID.String()),
			zap.String("stale_conn_id", stale.String()),
			zap.String("conn_id", conn.String()))
		c.dropConn(stale, false)
		c.sender.Close(stale)
	}

	p := domain.Participant{
		UserID:      ev.ID,
		DisplayName: ev.Name,
		Role:        ev.Role,
		JoinedAt:    c.now(),
	}
	c.presence.Register(conn, p)
	p.ConnID = conn

	c.send(conn, EventYourInfo, p)
	c.send(conn, EventAvailableUsers, c.presence.AvailableFor(p.Role))
	c.pushAvailability(p.Role)
	// the pool that saw the previous role must drop this participant
	if rejoin && current.Role != p.Role {
		c.pushAvailability(current.Role)
	}
	c.notifyAdmins(EventUserStatusUpdate, userStatus(p, true))

	if c.directory != nil {
		c.async("directory", []zap.Field{zap.String("user_id", p.UserID.String())}, func(ctx context.Context) error {
			return c.directory.MarkOnline(ctx, p)
		})
	}

	logger.Info("Participant joined",
		zap.String("user_id", p.UserID.String()),
		zap.String("role", string(p.Role)),
		zap.String("conn_id", conn.String()))
	return nil
}

// pushAvailability sends the recomputed pool to everyone who can see role
func (c *Controller) pushAvailability(role domain.Role) {
	audience := c.presence.Audience(role)
	if len(audience) == 0 {
		return
	}
	counterpart, _ := role.Counterpart()
	c.broadcast(audience, EventAvailableUsers, c.presence.AvailableFor(counterpart))
}

func (c *Controller) handleGetAvailable(conn domain.ConnID) error {
	p, ok := c.presence.Get(conn)
	if !ok {
		return apperrors.NotAuthorizedError("Join before requesting available users")
	}
	c.send(conn, EventAvailableUsers, c.presence.AvailableFor(p.Role))
	return nil
}

func (c *Controller) handleInitiate(conn domain.ConnID, ev InitiateCall) error {
	caller, ok := c.presence.Get(conn)
	if !ok {
		return apperrors.NotAuthorizedError("Join before placing calls")
	}
	if ev.CallerID != uuid.Nil && ev.CallerID != caller.UserID {
		return apperrors.NotAuthorizedError("callerId does not match the joined user")
	}
	if caller.Role == domain.RoleAdmin {
		return apperrors.NotAuthorizedError("Admins cannot place calls")
	}

	target, ok := c.presence.Latest(ev.CalleeID)
	if !ok || target.Role == domain.RoleAdmin {
		return apperrors.TargetUnavailableError()
	}

	callerName := caller.DisplayName
	if callerName == "" {
		callerName = ev.CallerName
	}
	from := domain.CallParty{UserID: caller.UserID, Name: callerName, ConnID: conn}
	to := domain.CallParty{UserID: target.UserID, Name: target.DisplayName, ConnID: target.ConnID}

	s, err := c.sessions.Create(from, to, c.now())
	if err != nil {
		return err
	}

	c.send(to.ConnID, EventIncomingCall, IncomingCall{
		CallID: s.ID,
		From:   from,
		Name:   from.Name,
		Signal: ev.Signal,
	})
	c.send(conn, EventCallInitiated, CallInitiated{CallID: s.ID, Callee: to})
	c.notifyAdmins(EventNewCall, snapshotOf(s))
	c.persist(s)
	c.startExpiry(s.ID)
	c.metrics.SetActiveCalls(c.sessions.Len())

	logTransition(s)
	return nil
}

func (c *Controller) handleAccept(conn domain.ConnID, ev AcceptCall) error {
	s, err := c.sessions.Get(ev.CallID)
	if err != nil {
		return err
	}
	if s.Callee.ConnID != conn {
		return apperrors.NotAuthorizedError("Only the callee can accept a call")
	}
	if err := s.Accept(c.now()); err != nil {
		return err
	}
	c.stopExpiry(s.ID)

	accepted := CallAccepted{CallID: s.ID, Signal: ev.Signal}
	c.send(s.Caller.ConnID, EventCallAccepted, accepted)
	c.send(s.Callee.ConnID, EventCallAccepted, accepted)
	c.notifyAdmins(EventCallStatusUpdate, snapshotOf(s))
	c.persist(s)

	logTransition(s)
	return nil
}

func (c *Controller) handleReject(conn domain.ConnID, ev RejectCall) error {
	s, err := c.sessions.Get(ev.CallID)
	if err != nil {
		return err
	}
	if s.Callee.ConnID != conn {
		return apperrors.NotAuthorizedError("Only the callee can reject a call")
	}
	if err := s.Reject(c.now()); err != nil {
		return err
	}

	c.send(s.Caller.ConnID, EventCallRejected, CallRejected{CallID: s.ID})
	c.finish(s)
	return nil
}

func (c *Controller) handleEnd(conn domain.ConnID, ev EndCall) error {
	s, err := c.sessions.Get(ev.CallID)
	if err != nil {
		return err
	}
	if !s.Involves(conn) {
		return apperrors.NotAuthorizedError("Not a party of this call")
	}
	if err := s.End(c.now(), domain.EndReasonHangup); err != nil {
		return err
	}

	ended := callEnded(s)
	c.send(s.Caller.ConnID, EventCallEnded, ended)
	c.send(s.Callee.ConnID, EventCallEnded, ended)
	c.finish(s)
	return nil
}

func (c *Controller) handleExpire(id uuid.UUID) {
	delete(c.timers, id)
	s, err := c.sessions.Get(id)
	if err != nil {
		return
	}
	// An accept may have won the race against the timer
	if s.Status() != domain.CallStatusInitiated {
		return
	}
	if err := s.Expire(c.now()); err != nil {
		return
	}

	ended := callEnded(s)
	c.send(s.Caller.ConnID, EventCallEnded, ended)
	c.send(s.Callee.ConnID, EventCallEnded, ended)
	c.finish(s)

	if c.notifier != nil {
		rec := s.Record()
		c.async("push", []zap.Field{zap.String("call_id", rec.CallID.String())}, func(ctx context.Context) error {
			return c.notifier.NotifyMissedCall(ctx, rec)
		})
	}
}

func (c *Controller) handleDisconnect(conn domain.ConnID) {
	c.dropConn(conn, true)
}

// dropConn unregisters conn, ends its calls toward the other party and
// tells the counterpart pool and the admins. markOffline is false when a
// newer connection of the same user is taking over.
func (c *Controller) dropConn(conn domain.ConnID, markOffline bool) {
	p, ok := c.presence.Unregister(conn)
	if !ok {
		return
	}

	for _, s := range c.sessions.ByConn(conn) {
		if err := s.End(c.now(), domain.EndReasonDisconnect); err != nil {
			logger.Warn("Failed to end call on disconnect",
				zap.String("call_id", s.ID.String()), zap.Error(err))
			continue
		}
		if peer, ok := s.Peer(conn); ok {
			c.send(peer.ConnID, EventCallEnded, callEnded(s))
		}
		c.finish(s)
	}

	audience := c.presence.Audience(p.Role)
	c.broadcast(audience, EventUserDisconnected, p)
	c.pushAvailability(p.Role)
	c.notifyAdmins(EventUserStatusUpdate, userStatus(p, false))

	if markOffline && c.directory != nil && len(c.presence.ConnsOf(p.UserID)) == 0 {
		c.async("directory", []zap.Field{zap.String("user_id", p.UserID.String())}, func(ctx context.Context) error {
			return c.directory.MarkOffline(ctx, p.UserID, p.Role)
		})
	}

	logger.Info("Participant left",
		zap.String("user_id", p.UserID.String()),
		zap.String("role", string(p.Role)),
		zap.String("conn_id", conn.String()),
		zap.Bool("evicted", !markOffline))
}

// finish removes a terminal session and records its outcome
func (c *Controller) finish(s *session.CallSession) {
	c.stopExpiry(s.ID)
	c.sessions.Remove(s.ID)
	c.notifyAdmins(EventCallEnded, callEnded(s))
	c.persist(s)

	c.metrics.RecordCallOutcome(string(s.Status()), string(s.Reason))
	if d := s.DurationSeconds(); d != nil {
		c.metrics.RecordCallDuration(time.Duration(*d) * time.Second)
	}
	c.metrics.SetActiveCalls(c.sessions.Len())
	logTransition(s)
}

func (c *Controller) handleGetActiveCalls(conn domain.ConnID) error {
	p, ok := c.presence.Get(conn)
	if !ok || p.Role != domain.RoleAdmin {
		return apperrors.NotAuthorizedError("Only admins can list active calls")
	}
	c.send(conn, EventActiveCalls, c.activeCalls())
	return nil
}

func (c *Controller) activeCalls() []CallSnapshot {
	sessions := c.sessions.Sessions()
	out := make([]CallSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, snapshotOf(s))
	}
	return out
}

func (c *Controller) startExpiry(id uuid.UUID) {
	if c.cfg.InviteTimeout <= 0 {
		return
	}
	c.timers[id] = time.AfterFunc(c.cfg.InviteTimeout, func() {
		select {
		case c.expiries <- id:
		case <-c.done:
		}
	})
}

func (c *Controller) stopExpiry(id uuid.UUID) {
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

func snapshotOf(s *session.CallSession) CallSnapshot {
	return CallSnapshot{
		CallID:     s.ID,
		Caller:     s.Caller,
		Callee:     s.Callee,
		Status:     s.Status(),
		StartTime:  s.StartedAt,
		AcceptedAt: s.AcceptedAt,
	}
}

func callEnded(s *session.CallSession) CallEnded {
	return CallEnded{CallID: s.ID, Reason: s.Reason, Duration: s.DurationSeconds()}
}

func userStatus(p domain.Participant, online bool) UserStatus {
	return UserStatus{UserID: p.UserID, Username: p.DisplayName, Role: p.Role, IsOnline: online}
}

func logTransition(s *session.CallSession) {
	logger.Info("Call state changed",
		zap.String("call_id", s.ID.String()),
		zap.String("caller_id", s.Caller.UserID.String()),
		zap.String("callee_id", s.Callee.UserID.String()),
		zap.String("status", string(s.Status())),
		zap.String("reason", string(s.Reason)))
}
