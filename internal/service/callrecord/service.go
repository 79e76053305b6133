package callrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/repository/cockroach"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/tracing"
)

// CallStore is the durable call history
type CallStore interface {
	Upsert(ctx context.Context, rec domain.CallRecord) (bool, error)
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error)
	List(ctx context.Context, filter cockroach.CallFilter) ([]*domain.CallRecord, int64, error)
}

// EventJournal keeps one row per call transition
type EventJournal interface {
	Append(ctx context.Context, ev domain.CallEvent) error
	ListByCall(ctx context.Context, callID uuid.UUID) ([]domain.CallEvent, error)
}

// Requester identifies who asks for history
type Requester struct {
	UserID uuid.UUID
	Role   domain.Role
}

// Service records call transitions and answers history queries.
// Either store may be nil when its backend is unavailable.
type Service struct {
	calls   CallStore
	journal EventJournal
	metrics *metrics.Metrics
}

// NewService creates a new call record service
func NewService(calls CallStore, journal EventJournal, m *metrics.Metrics) *Service {
	return &Service{calls: calls, journal: journal, metrics: m}
}

// Record writes one snapshot of a call to every configured store.
// Stores discard snapshots older than what they hold, so out-of-order
// delivery never regresses a record.
func (s *Service) Record(ctx context.Context, rec domain.CallRecord) error {
	var errs []error

	if s.calls != nil {
		if err := s.upsert(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if s.journal != nil {
		if err := s.append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) upsert(ctx context.Context, rec domain.CallRecord) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "cockroach", "upsert_call",
		tracing.CallIDKey.String(rec.CallID.String()),
		tracing.StatusKey.String(string(rec.Status)),
		attribute.Int("call.revision", rec.Revision),
	)
	defer span.End()

	start := time.Now()
	applied, err := s.calls.Upsert(ctx, rec)
	s.metrics.RecordDBQuery("cockroach", "upsert_call", time.Since(start), err)
	tracing.RecordError(span, err)
	if err != nil {
		return err
	}

	if !applied {
		logger.Debug("Stale call record discarded",
			zap.String("call_id", rec.CallID.String()),
			zap.Int("revision", rec.Revision))
	}
	return nil
}

func (s *Service) append(ctx context.Context, rec domain.CallRecord) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "cassandra", "append_call_event",
		tracing.CallIDKey.String(rec.CallID.String()),
		tracing.StatusKey.String(string(rec.Status)),
	)
	defer span.End()

	start := time.Now()
	err := s.journal.Append(ctx, domain.EventOf(rec))
	s.metrics.RecordDBQuery("cassandra", "append_call_event", time.Since(start), err)
	tracing.RecordError(span, err)
	return err
}

// History lists calls newest first. Admins see every call, everyone else
// only the calls they took part in.
func (s *Service) History(ctx context.Context, who Requester, limit, offset int) ([]*domain.CallRecord, int64, error) {
	if s.calls == nil {
		return nil, 0, apperrors.ServiceUnavailableError("Call history is unavailable")
	}

	filter := cockroach.CallFilter{Limit: limit, Offset: offset}
	if who.Role != domain.RoleAdmin {
		filter.UserID = &who.UserID
	}

	ctx, span := tracing.TraceStoreOperation(ctx, "cockroach", "list_calls",
		tracing.UserIDKey.String(who.UserID.String()))
	defer span.End()

	start := time.Now()
	calls, total, err := s.calls.List(ctx, filter)
	s.metrics.RecordDBQuery("cockroach", "list_calls", time.Since(start), err)
	tracing.RecordError(span, err)
	if err != nil {
		return nil, 0, apperrors.DatabaseError(err)
	}

	return calls, total, nil
}

// Timeline returns the journaled transitions of one call
func (s *Service) Timeline(ctx context.Context, who Requester, callID uuid.UUID) ([]domain.CallEvent, error) {
	if s.calls == nil || s.journal == nil {
		return nil, apperrors.ServiceUnavailableError("Call timeline is unavailable")
	}

	rec, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.DatabaseError(err)
	}
	if who.Role != domain.RoleAdmin && rec.CallerID != who.UserID && rec.CalleeID != who.UserID {
		// Hide existence from non-parties
		return nil, apperrors.CallNotFoundError()
	}

	start := time.Now()
	events, err := s.journal.ListByCall(ctx, callID)
	s.metrics.RecordDBQuery("cassandra", "list_call_events", time.Since(start), err)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("call %s: %w", callID, err))
	}
	if events == nil {
		events = []domain.CallEvent{}
	}
	return events, nil
}
