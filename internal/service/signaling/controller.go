// Package signaling implements the connection lifecycle controller: it owns
// the presence registry and the call session table, applies client events
// to them one at a time and relays negotiation messages between the two
// parties of a call.
package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/service/presence"
	"emphealth-backend/internal/service/session"
	"emphealth-backend/pkg/constants"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
)

// ErrStopped is returned by calls made after the controller loop exited
var ErrStopped = errors.New("signaling controller stopped")

// Sender delivers frames to live connections. Both methods must not block.
type Sender interface {
	Send(conn domain.ConnID, msg Outbound)
	Close(conn domain.ConnID)
}

// CallRecorder persists call records
type CallRecorder interface {
	Record(ctx context.Context, rec domain.CallRecord) error
}

// PresenceDirectory records presence flags on the user directory
type PresenceDirectory interface {
	MarkOnline(ctx context.Context, p domain.Participant) error
	MarkOffline(ctx context.Context, userID uuid.UUID, role domain.Role) error
}

// MissedCallNotifier tells a callee about a call that rang out
type MissedCallNotifier interface {
	NotifyMissedCall(ctx context.Context, rec domain.CallRecord) error
}

// Config tunes the controller
type Config struct {
	// InviteTimeout bounds how long a call may ring; zero disables expiry
	InviteTimeout time.Duration
	// PersistTimeout bounds each fire-and-forget collaborator write
	PersistTimeout time.Duration
	StatsInterval  time.Duration
}

// Deps are the controller's collaborators. Only Sender is required.
type Deps struct {
	Sender    Sender
	Recorder  CallRecorder
	Directory PresenceDirectory
	Notifier  MissedCallNotifier
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// command is one unit of work for the event loop. Events, disconnects and
// queries share a channel so they are applied in the order they arrive.
type command struct {
	conn       domain.ConnID
	ev         Inbound
	disconnect bool
	query      func()
}

// Controller is a single-goroutine actor. All registry and session state is
// touched only from Run.
type Controller struct {
	cfg       Config
	sender    Sender
	recorder  CallRecorder
	directory PresenceDirectory
	notifier  MissedCallNotifier
	metrics   *metrics.Metrics
	now       func() time.Time

	presence *presence.Registry
	sessions *session.Table
	timers   map[uuid.UUID]*time.Timer

	inbox    chan command
	expiries chan uuid.UUID
	done     chan struct{}
	stopOnce sync.Once

	background sync.WaitGroup
}

// NewController creates a controller with empty state
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 3 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 30 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:       cfg,
		sender:    deps.Sender,
		recorder:  deps.Recorder,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		now:       now,
		presence:  presence.NewRegistry(),
		sessions:  session.NewTable(),
		timers:    make(map[uuid.UUID]*time.Timer),
		inbox:     make(chan command, constants.ControllerInboxSize),
		expiries:  make(chan uuid.UUID, 64),
		done:      make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()
	defer c.stop()

	logger.Info("Signaling controller started",
		zap.Duration("invite_timeout", c.cfg.InviteTimeout))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Signaling controller stopping",
				zap.Int("participants", c.presence.Len()),
				zap.Int("active_calls", c.sessions.Len()))
			return
		case cmd := <-c.inbox:
			switch {
			case cmd.query != nil:
				cmd.query()
			case cmd.disconnect:
				c.handleDisconnect(cmd.conn)
			default:
				c.handle(cmd.conn, cmd.ev)
			}
		case id := <-c.expiries:
			c.handleExpire(id)
		case <-ticker.C:
			c.logStats()
		}
	}
}

func (c *Controller) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		for id, t := range c.timers {
			t.Stop()
			delete(c.timers, id)
		}
	})
}

// Dispatch queues an inbound event from conn. Events of one connection are
// handled in the order they are dispatched.
func (c *Controller) Dispatch(ctx context.Context, conn domain.ConnID, ev Inbound) error {
	return c.enqueue(ctx, command{conn: conn, ev: ev})
}

// Disconnect queues the teardown of conn after its pending events
func (c *Controller) Disconnect(conn domain.ConnID) {
	_ = c.enqueue(context.Background(), command{conn: conn, disconnect: true})
}

func (c *Controller) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCalls returns a snapshot of every live call
func (c *Controller) ActiveCalls(ctx context.Context) ([]CallSnapshot, error) {
	var out []CallSnapshot
	if err := c.query(ctx, func() { out = c.activeCalls() }); err != nil {
		return nil, err
	}
	return out, nil
}

// PresenceSummary counts live participants and calls
type PresenceSummary struct {
	Participants map[domain.Role]int `json:"participants"`
	ActiveCalls  int                 `json:"active_calls"`
}

// Presence returns the current participant and call counts
func (c *Controller) Presence(ctx context.Context) (PresenceSummary, error) {
	var out PresenceSummary
	err := c.query(ctx, func() {
		out = PresenceSummary{
			Participants: c.presence.CountByRole(),
			ActiveCalls:  c.sessions.Len(),
		}
	})
	if err != nil {
		return PresenceSummary{}, err
	}
	return out, nil
}

func (c *Controller) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := c.enqueue(ctx, command{query: func() { fn(); close(finished) }})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle applies one inbound event; domain failures go back to conn only
func (c *Controller) handle(conn domain.ConnID, ev Inbound) {
	c.metrics.RecordSignalingEvent(ev.EventName())
	logger.Debug("Signaling event",
		zap.String("event", ev.EventName()),
		zap.String("conn_id", conn.String()))

	var (
		err    error
		callID *uuid.UUID
	)
	switch e := ev.(type) {
	case UserJoined:
		err = c.handleJoin(conn, e)
	case GetAvailableUsers:
		err = c.handleGetAvailable(conn)
	case InitiateCall:
		err = c.handleInitiate(conn, e)
	case AcceptCall:
		callID = &e.CallID
		err = c.handleAccept(conn, e)
	case RejectCall:
		callID = &e.CallID
		err = c.handleReject(conn, e)
	case EndCall:
		callID = &e.CallID
		err = c.handleEnd(conn, e)
	case Relay:
		callID = &e.CallID
		err = c.handleRelay(conn, e)
	case GetActiveCalls:
		err = c.handleGetActiveCalls(conn)
	default:
		err = apperrors.InvalidEventError("unsupported event " + ev.EventName())
	}

	if err != nil {
		c.SendError(conn, callID, err)
	}
}

// SendError reports err to conn as a call-error event
func (c *Controller) SendError(conn domain.ConnID, callID *uuid.UUID, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Code == apperrors.ErrCodeInternal {
		logger.Error("Signaling event failed", zap.String("conn_id", conn.String()), zap.Error(err))
	}
	c.metrics.RecordCallError(string(appErr.Code))
	c.sender.Send(conn, Outbound{Event: EventCallError, Data: CallError{
		Code:    appErr.Code,
		Message: appErr.Message,
		CallID:  callID,
	}})
}

func (c *Controller) send(conn domain.ConnID, event string, data any) {
	c.sender.Send(conn, Outbound{Event: event, Data: data})
}

func (c *Controller) broadcast(conns []domain.ConnID, event string, data any) {
	for _, conn := range conns {
		c.send(conn, event, data)
	}
}

func (c *Controller) notifyAdmins(event string, data any) {
	c.broadcast(c.presence.Admins(), event, data)
}

// async runs a best-effort collaborator write off the event loop.
// Failures are logged and counted, never surfaced to clients.
func (c *Controller) async(collaborator string, fields []zap.Field, fn func(ctx context.Context) error) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.metrics.RecordSinkFailure(collaborator)
			logger.Warn("Best-effort write failed",
				append(fields, zap.String("collaborator", collaborator), zap.Error(err))...)
		}
	}()
}

// Wait blocks until every in-flight background write has finished
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) persist(s *session.CallSession) {
	if c.recorder == nil {
		return
	}
	rec := s.Record()
	c.async("call_recorder", []zap.Field{
		zap.String("call_id", rec.CallID.String()),
		zap.String("status", string(rec.Status)),
	}, func(ctx context.Context) error {
		return c.recorder.Record(ctx, rec)
	})
}

func (c *Controller) logStats() {
	counts := c.presence.CountByRole()
	for _, role := range []domain.Role{domain.RoleDoctor, domain.RoleEmployee, domain.RoleAdmin} {
		c.metrics.SetParticipants(string(role), counts[role])
	}
	c.metrics.SetActiveCalls(c.sessions.Len())
	logger.Info("Signaling stats",
		zap.Int("active_users", c.presence.Len()),
		zap.Int("active_calls", c.sessions.Len()))
}
