package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"rallypoint/internal/types"
)

const sessionColumns = `id, org_id, title, status, starts_at, ends_at, created_at, updated_at, deleted_at`

// SessionRepository provides read access plus the status transition write
// for the sessions table. All other session writes belong to the external
// CRUD service.
type SessionRepository struct{}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{}
}

// GetByID returns a session by id, or (nil, nil) when it does not exist or
// has been soft-deleted.
func (r *SessionRepository) GetByID(ctx context.Context, db DBTX, id string) (*types.Session, error) {
	row := db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	var s types.Session
	err := row.Scan(
		&s.ID,
		&s.OrgID,
		&s.Title,
		&s.Status,
		&s.StartsAt,
		&s.EndsAt,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeStoreQuery, "failed to query session", err)
	}
	return &s, nil
}

// UpdateStatus conditionally moves a session to the target status. Returns
// whether a row changed: false means the session is already in the target
// state, gone, or soft-deleted, and callers treat it as a no-op rather than
// a failure.
func (r *SessionRepository) UpdateStatus(ctx context.Context, db DBTX, id string, target types.SessionStatus) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status <> $2 AND deleted_at IS NULL`,
		id,
		string(target),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeStoreQuery, "failed to update session status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Create inserts a session row. Used by the bootstrap seed path and tests;
// production session creation lives in the CRUD service.
func (r *SessionRepository) Create(ctx context.Context, db DBTX, s *types.Session) error {
	err := db.QueryRow(ctx,
		`INSERT INTO sessions (org_id, title, status, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		s.OrgID,
		s.Title,
		string(s.Status),
		s.StartsAt,
		s.EndsAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreQuery, "failed to create session", err)
	}
	return nil
}
