package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rallypoint/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// makeScanFnForEntry creates a scanFn that populates dest slices to match a
// given ScheduleEntry. This mirrors the column ordering in entryColumns.
func makeScanFnForEntry(e *types.ScheduleEntry) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = e.ID
		*dest[1].(*string) = e.SessionID
		*dest[2].(*types.ScheduleKind) = e.Kind
		*dest[3].(*time.Time) = e.DueAt
		*dest[4].(*bool) = e.Processed
		*dest[5].(*types.EntryPayload) = e.Payload
		*dest[6].(*time.Time) = e.CreatedAt
		*dest[7].(*time.Time) = e.UpdatedAt
		return nil
	}
}

func newTestEntry() *types.ScheduleEntry {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return &types.ScheduleEntry{
		ID:        "2a9f0b1c-0000-0000-0000-000000000001",
		SessionID: "7c3e4d5f-0000-0000-0000-000000000002",
		Kind:      types.KindReminder,
		DueAt:     now.Add(30 * time.Minute),
		Processed: false,
		Payload:   types.EntryPayload{types.PayloadKeyLeadMinutes: float64(30)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- NextDue ---

func TestScheduleRepository_NextDue_ReturnsEarliestEntry(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()
	want := newTestEntry()

	dbtx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "processed = FALSE") &&
			strings.Contains(sql, "ORDER BY due_at ASC") &&
			strings.Contains(sql, "LIMIT 1")
	}), []any{"reminder"}).Return(&mockRow{scanFn: makeScanFnForEntry(want)})

	got, err := repo.NextDue(context.Background(), dbtx, types.KindReminder)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.DueAt, got.DueAt)
	assert.False(t, got.Processed)
	dbtx.AssertExpectations(t)
}

func TestScheduleRepository_NextDue_NoRowsIsIdleNotError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.NextDue(context.Background(), dbtx, types.KindStatusTransition)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScheduleRepository_NextDue_StoreError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()
	boom := errors.New("connection reset")

	dbtx.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: boom})

	_, err := repo.NextDue(context.Background(), dbtx, types.KindReminder)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeStoreQuery, appErr.Code)
	assert.ErrorIs(t, err, boom)
}

// --- MarkProcessed ---

func TestScheduleRepository_MarkProcessed_RowChanged(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "processed = FALSE")
	}), []any{"e1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	changed, err := repo.MarkProcessed(context.Background(), dbtx, "e1")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestScheduleRepository_MarkProcessed_AlreadyProcessedIsSuccess(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	changed, err := repo.MarkProcessed(context.Background(), dbtx, "e1")
	require.NoError(t, err)
	assert.False(t, changed, "zero rows affected signals already-processed, not failure")
}

func TestScheduleRepository_MarkProcessed_IdempotentUnderConcurrency(t *testing.T) {
	// Two sequential calls model the race between loops: the store
	// guarantees exactly one caller observes the FALSE -> TRUE flip.
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	dbtx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	first, err := repo.MarkProcessed(context.Background(), dbtx, "e1")
	require.NoError(t, err)
	second, err := repo.MarkProcessed(context.Background(), dbtx, "e1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestScheduleRepository_MarkProcessed_StoreError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	_, err := repo.MarkProcessed(context.Background(), dbtx, "e1")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeStoreQuery, appErr.Code)
}

// --- Upsert / Clear ---

func TestScheduleRepository_Upsert_ReturnsEntry(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()
	want := newTestEntry()

	dbtx.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (session_id, kind) WHERE processed = FALSE")
	}), mock.Anything).Return(&mockRow{scanFn: makeScanFnForEntry(want)})

	got, err := repo.Upsert(context.Background(), dbtx, want.SessionID, want.Kind, want.DueAt, want.Payload)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestScheduleRepository_Clear_ReportsWhetherPendingExisted(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewScheduleRepository()

	dbtx.On("Exec", mock.Anything, mock.Anything, []any{"s1", "reminder"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	dbtx.On("Exec", mock.Anything, mock.Anything, []any{"s1", "reminder"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	cleared, err := repo.Clear(context.Background(), dbtx, "s1", types.KindReminder)
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = repo.Clear(context.Background(), dbtx, "s1", types.KindReminder)
	require.NoError(t, err)
	assert.False(t, cleared)
}

