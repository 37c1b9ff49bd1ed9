package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rallypoint/internal/types"
)

// mockDBTX and mockRow are defined in schedule_repo_test.go and reused here.

func makeScanFnForSession(s *types.Session) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = s.ID
		*dest[1].(*string) = s.OrgID
		*dest[2].(*string) = s.Title
		*dest[3].(*types.SessionStatus) = s.Status
		*dest[4].(*time.Time) = s.StartsAt
		*dest[5].(*time.Time) = s.EndsAt
		*dest[6].(*time.Time) = s.CreatedAt
		*dest[7].(*time.Time) = s.UpdatedAt
		*dest[8].(**time.Time) = s.DeletedAt
		return nil
	}
}

func newTestSession() *types.Session {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return &types.Session{
		ID:        "7c3e4d5f-0000-0000-0000-000000000002",
		OrgID:     "9b8a7c6d-0000-0000-0000-000000000003",
		Title:     "Friday Night Heist",
		Status:    types.SessionScheduled,
		StartsAt:  now.Add(2 * time.Hour),
		EndsAt:    now.Add(5 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionRepository_GetByID_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSessionRepository()
	want := newTestSession()

	dbtx.On("QueryRow", mock.Anything, mock.Anything, []any{want.ID}).
		Return(&mockRow{scanFn: makeScanFnForSession(want)})

	got, err := repo.GetByID(context.Background(), dbtx, want.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Title, got.Title)
	assert.False(t, got.Deleted())
}

func TestSessionRepository_GetByID_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSessionRepository()

	dbtx.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.GetByID(context.Background(), dbtx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepository_UpdateStatus_Changed(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSessionRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, []any{"s1", "open"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	changed, err := repo.UpdateStatus(context.Background(), dbtx, "s1", types.SessionOpen)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSessionRepository_UpdateStatus_AlreadyInTargetState(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSessionRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	changed, err := repo.UpdateStatus(context.Background(), dbtx, "s1", types.SessionOpen)
	require.NoError(t, err)
	assert.False(t, changed, "no-op transitions are not errors")
}

func TestSessionRepository_Create_PopulatesGeneratedFields(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSessionRepository()
	s := newTestSession()
	s.ID = ""

	now := time.Date(2026, 8, 26, 13, 0, 0, 0, time.UTC)
	dbtx.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "generated-id"
			*dest[1].(*time.Time) = now
			*dest[2].(*time.Time) = now
			return nil
		}})

	err := repo.Create(context.Background(), dbtx, s)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", s.ID)
	assert.Equal(t, now, s.CreatedAt)
}
