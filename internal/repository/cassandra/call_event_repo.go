package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"emphealth-backend/internal/database"
	"emphealth-backend/internal/domain"
)

// CallEventRepository is an append-only journal of call transitions.
// Rows are keyed by (call_id, revision) so a replayed write overwrites itself.
type CallEventRepository struct {
	db *database.CassandraDB
}

// NewCallEventRepository creates a new CallEventRepository
func NewCallEventRepository(db *database.CassandraDB) *CallEventRepository {
	return &CallEventRepository{db: db}
}

// Append journals one transition
func (r *CallEventRepository) Append(ctx context.Context, ev domain.CallEvent) error {
	query := `
		INSERT INTO call_events (
			call_id, revision, status, end_reason, caller_id, callee_id,
			occurred_at, duration_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.ExecWithContext(ctx, query,
		gocql.UUID(ev.CallID),
		ev.Revision,
		string(ev.Status),
		string(ev.EndReason),
		gocql.UUID(ev.CallerID),
		gocql.UUID(ev.CalleeID),
		ev.OccurredAt,
		ev.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to append call event: %w", err)
	}

	return nil
}

// ListByCall returns the journal of one call in revision order
func (r *CallEventRepository) ListByCall(ctx context.Context, callID uuid.UUID) ([]domain.CallEvent, error) {
	query := `
		SELECT call_id, revision, status, end_reason, caller_id, callee_id,
		       occurred_at, duration_seconds
		FROM call_events
		WHERE call_id = ?
	`

	iter := r.db.QueryWithContext(ctx, query, gocql.UUID(callID)).Iter()

	var events []domain.CallEvent
	var (
		id, caller, callee gocql.UUID
		ev                 domain.CallEvent
		status, reason     string
		duration           *int
	)
	for iter.Scan(&id, &ev.Revision, &status, &reason, &caller, &callee, &ev.OccurredAt, &duration) {
		ev.CallID = uuid.UUID(id)
		ev.CallerID = uuid.UUID(caller)
		ev.CalleeID = uuid.UUID(callee)
		ev.Status = domain.CallStatus(status)
		ev.EndReason = domain.EndReason(reason)
		ev.DurationSeconds = duration
		events = append(events, ev)
		duration = nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list call events: %w", err)
	}

	return events, nil
}
