package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
)

// CallRepository stores the durable history of call attempts
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CallFilter narrows a history query. A nil UserID lists every call.
type CallFilter struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}

const upsertCallQuery = `
	INSERT INTO calls (
		call_id, caller_id, caller_name, callee_id, callee_name, status, end_reason,
		revision, started_at, accepted_at, ended_at, duration_seconds
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (call_id) DO UPDATE SET
		status = excluded.status,
		end_reason = excluded.end_reason,
		revision = excluded.revision,
		accepted_at = excluded.accepted_at,
		ended_at = excluded.ended_at,
		duration_seconds = excluded.duration_seconds
	WHERE calls.revision < excluded.revision
`

// Upsert writes rec unless a record with the same or a newer revision is already stored.
// It reports whether the row changed.
func (r *CallRepository) Upsert(ctx context.Context, rec domain.CallRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, upsertCallQuery,
		rec.CallID,
		rec.CallerID,
		rec.CallerName,
		rec.CalleeID,
		rec.CalleeName,
		string(rec.Status),
		string(rec.EndReason),
		rec.Revision,
		rec.StartedAt,
		rec.AcceptedAt,
		rec.EndedAt,
		rec.DurationSeconds,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert call: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const selectCallColumns = `
	SELECT call_id, caller_id, caller_name, callee_id, callee_name, status, end_reason,
	       revision, started_at, accepted_at, ended_at, duration_seconds
	FROM calls
`

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	rec, err := scanCall(r.pool.QueryRow(ctx, selectCallColumns+`WHERE call_id = $1`, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return rec, nil
}

// List returns calls newest first together with the total number of matches
func (r *CallRepository) List(ctx context.Context, filter CallFilter) ([]*domain.CallRecord, int64, error) {
	where := ""
	args := []any{}
	if filter.UserID != nil {
		where = `WHERE caller_id = $1 OR callee_id = $1 `
		args = append(args, *filter.UserID)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM calls `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	query := selectCallColumns + where +
		fmt.Sprintf(`ORDER BY started_at DESC, call_id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*domain.CallRecord, 0, filter.Limit)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate calls: %w", err)
	}

	return calls, total, nil
}

func scanCall(row pgx.Row) (*domain.CallRecord, error) {
	rec := &domain.CallRecord{}
	var status, reason string
	err := row.Scan(
		&rec.CallID,
		&rec.CallerID,
		&rec.CallerName,
		&rec.CalleeID,
		&rec.CalleeName,
		&status,
		&reason,
		&rec.Revision,
		&rec.StartedAt,
		&rec.AcceptedAt,
		&rec.EndedAt,
		&rec.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.CallStatus(status)
	rec.EndReason = domain.EndReason(reason)
	return rec, nil
}
