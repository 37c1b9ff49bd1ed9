package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rallypoint/internal/db"
	"rallypoint/internal/types"
)

// fakeSessions serves a single session and records status updates.
type fakeSessions struct {
	session     *types.Session
	getErr      error
	updateOK    bool
	updateErr   error
	updateCalls []types.SessionStatus
}

func (f *fakeSessions) GetByID(_ context.Context, _ db.DBTX, _ string) (*types.Session, error) {
	return f.session, f.getErr
}

func (f *fakeSessions) UpdateStatus(_ context.Context, _ db.DBTX, _ string, target types.SessionStatus) (bool, error) {
	f.updateCalls = append(f.updateCalls, target)
	return f.updateOK, f.updateErr
}

// capturePublisher records published events.
type capturePublisher struct {
	events []types.EventMessage
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, msg types.EventMessage) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, msg)
	return nil
}

func activeSession() *types.Session {
	return &types.Session{
		ID:       "s1",
		OrgID:    "o1",
		Title:    "Friday Night Heist",
		Status:   types.SessionScheduled,
		StartsAt: time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 8, 26, 23, 0, 0, 0, time.UTC),
	}
}

func reminderEntry() *types.ScheduleEntry {
	return &types.ScheduleEntry{
		ID:        "e1",
		SessionID: "s1",
		Kind:      types.KindReminder,
		DueAt:     time.Date(2026, 8, 26, 19, 30, 0, 0, time.UTC),
		Payload: types.EntryPayload{
			types.PayloadKeyLeadMinutes: float64(30),
			types.PayloadKeyRecipient:   "player@example.com",
		},
	}
}

func TestReminderProcessor_PublishesDeliveryEvent(t *testing.T) {
	sessions := &fakeSessions{session: activeSession()}
	pub := &capturePublisher{}
	p := NewReminderProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, reminderEntry())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, "reminder.due", evt.RoutingKey)
	assert.Equal(t, "e1", evt.EventID, "event id must be the entry id for consumer dedup")
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, "o1", evt.OrgID)
	assert.Equal(t, "Friday Night Heist", evt.Payload["session_title"])
	assert.Equal(t, 30, evt.Payload["lead_minutes"])
	assert.Equal(t, "player@example.com", evt.Payload["recipient"])
	assert.NotEmpty(t, evt.TraceID)
}

func TestJoinNoticeProcessor_UsesJoinNoticeRoutingKey(t *testing.T) {
	sessions := &fakeSessions{session: activeSession()}
	pub := &capturePublisher{}
	p := NewJoinNoticeProcessor(sessions, pub, nopLogger{})

	require.NoError(t, p.Execute(context.Background(), nil, reminderEntry()))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "join_notice.due", pub.events[0].RoutingKey)
}

func TestReminderProcessor_CancelledSessionSuppressesPublish(t *testing.T) {
	sess := activeSession()
	sess.Status = types.SessionCancelled
	sessions := &fakeSessions{session: sess}
	pub := &capturePublisher{}
	p := NewReminderProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, reminderEntry())
	require.NoError(t, err, "suppression is a success: the entry still gets marked processed")
	assert.Empty(t, pub.events)
}

func TestReminderProcessor_DeletedSessionSuppressesPublish(t *testing.T) {
	sessions := &fakeSessions{session: nil}
	pub := &capturePublisher{}
	p := NewReminderProcessor(sessions, pub, nopLogger{})

	require.NoError(t, p.Execute(context.Background(), nil, reminderEntry()))
	assert.Empty(t, pub.events)
}

func TestReminderProcessor_PublishFailurePropagates(t *testing.T) {
	sessions := &fakeSessions{session: activeSession()}
	pub := &capturePublisher{err: types.NewAppError(types.ErrCodeQueuePublishFailed, "send failed", nil)}
	p := NewReminderProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, reminderEntry())
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func transitionEntry(target string) *types.ScheduleEntry {
	e := reminderEntry()
	e.Kind = types.KindStatusTransition
	e.Payload = types.EntryPayload{types.PayloadKeyTargetStatus: target}
	return e
}

func TestTransitionProcessor_AppliesTransitionAndPublishes(t *testing.T) {
	sessions := &fakeSessions{session: activeSession(), updateOK: true}
	pub := &capturePublisher{}
	p := NewTransitionProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, transitionEntry("open"))
	require.NoError(t, err)

	require.Equal(t, []types.SessionStatus{types.SessionOpen}, sessions.updateCalls)
	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, "session.status.open", evt.RoutingKey)
	assert.Equal(t, "scheduled", evt.Payload["from"])
	assert.Equal(t, "open", evt.Payload["to"])
}

func TestTransitionProcessor_InvalidTargetIsDataError(t *testing.T) {
	sessions := &fakeSessions{session: activeSession(), updateOK: true}
	pub := &capturePublisher{}
	p := NewTransitionProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, transitionEntry("teleported"))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeEntryPayloadInvalid, appErr.Code)
	assert.Empty(t, sessions.updateCalls)
	assert.Empty(t, pub.events)
}

func TestTransitionProcessor_MissingTargetIsDataError(t *testing.T) {
	e := transitionEntry("open")
	e.Payload = types.EntryPayload{}
	p := NewTransitionProcessor(&fakeSessions{session: activeSession()}, &capturePublisher{}, nopLogger{})

	err := p.Execute(context.Background(), nil, e)
	require.Error(t, err)
}

func TestTransitionProcessor_NoOpUpdateSuppressesPublish(t *testing.T) {
	sessions := &fakeSessions{session: activeSession(), updateOK: false}
	pub := &capturePublisher{}
	p := NewTransitionProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, transitionEntry("open"))
	require.NoError(t, err)
	assert.Empty(t, pub.events)
}

func TestTransitionProcessor_DeletedSessionSuppressesTransition(t *testing.T) {
	sessions := &fakeSessions{session: nil}
	pub := &capturePublisher{}
	p := NewTransitionProcessor(sessions, pub, nopLogger{})

	err := p.Execute(context.Background(), nil, transitionEntry("open"))
	require.NoError(t, err)
	assert.Empty(t, sessions.updateCalls)
	assert.Empty(t, pub.events)
}
