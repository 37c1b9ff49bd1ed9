package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"rallypoint/internal/types"
)

// entryColumns is the canonical column list for schedule_entries scans.
const entryColumns = `id, session_id, kind, due_at, processed, payload, created_at, updated_at`

// ScheduleRepository provides data access for the schedule_entries table.
// It carries no connection of its own: every method takes a DBTX so the
// scheduler loop can run reads on the pool and processing inside a
// transaction with the same repository instance.
type ScheduleRepository struct{}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{}
}

// scanEntry scans a single schedule_entries row.
func scanEntry(row pgx.Row) (*types.ScheduleEntry, error) {
	var e types.ScheduleEntry
	err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.Kind,
		&e.DueAt,
		&e.Processed,
		&e.Payload,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// NextDue returns the single unprocessed entry of the given kind with the
// earliest due_at, or (nil, nil) when none exists. The nil result is the
// common idle case, not an error.
//
// The query is backed by the partial index on (kind, due_at) WHERE
// processed = FALSE, so its cost is independent of processed history.
func (r *ScheduleRepository) NextDue(ctx context.Context, db DBTX, kind types.ScheduleKind) (*types.ScheduleEntry, error) {
	row := db.QueryRow(ctx,
		`SELECT `+entryColumns+`
		 FROM schedule_entries
		 WHERE kind = $1 AND processed = FALSE
		 ORDER BY due_at ASC
		 LIMIT 1`,
		string(kind),
	)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeStoreQuery, "failed to query next due entry", err)
	}
	return entry, nil
}

// MarkProcessed flips processed FALSE -> TRUE for the given entry. Returns
// whether a row was actually changed: false means "already processed by
// someone else" and MUST be treated as success by callers, which is what
// makes the operation idempotent and safe to retry.
func (r *ScheduleRepository) MarkProcessed(ctx context.Context, db DBTX, entryID string) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE schedule_entries
		 SET processed = TRUE, updated_at = now()
		 WHERE id = $1 AND processed = FALSE`,
		entryID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeStoreQuery, "failed to mark entry processed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID returns a single entry by id, or (nil, nil) when absent.
func (r *ScheduleRepository) GetByID(ctx context.Context, db DBTX, entryID string) (*types.ScheduleEntry, error) {
	row := db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE id = $1`,
		entryID,
	)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeStoreQuery, "failed to query schedule entry", err)
	}
	return entry, nil
}

// Upsert creates or reschedules the pending entry for (session, kind). The
// conflict target is the partial unique index on (session_id, kind) WHERE
// processed = FALSE, so rescheduling an already-pending entry updates it in
// place while processed history is never touched.
//
// This is the collaborator write surface: the CRUD service calls it on
// session create/update; the scheduler loops only read.
func (r *ScheduleRepository) Upsert(ctx context.Context, db DBTX, sessionID string, kind types.ScheduleKind, dueAt time.Time, payload types.EntryPayload) (*types.ScheduleEntry, error) {
	row := db.QueryRow(ctx,
		`INSERT INTO schedule_entries (session_id, kind, due_at, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, kind) WHERE processed = FALSE
		 DO UPDATE SET
		   due_at = EXCLUDED.due_at,
		   payload = EXCLUDED.payload,
		   updated_at = now()
		 RETURNING `+entryColumns,
		sessionID,
		string(kind),
		dueAt,
		payload,
	)

	entry, err := scanEntry(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStoreConflict, "failed to upsert schedule entry", err)
	}
	return entry, nil
}

// Clear retires the pending entry for (session, kind) without emitting an
// event, used when a session is cancelled. Returns whether a pending entry
// existed. Marking rather than deleting keeps history intact and reuses the
// same idempotent conditional-update shape as MarkProcessed.
func (r *ScheduleRepository) Clear(ctx context.Context, db DBTX, sessionID string, kind types.ScheduleKind) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE schedule_entries
		 SET processed = TRUE, updated_at = now()
		 WHERE session_id = $1 AND kind = $2 AND processed = FALSE`,
		sessionID,
		string(kind),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeStoreQuery, "failed to clear schedule entry", err)
	}
	return tag.RowsAffected() > 0, nil
}
