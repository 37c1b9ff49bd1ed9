package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rallypoint/internal/db"
	"rallypoint/internal/types"
)

// EventPublisher publishes a domain event. The queue Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, msg types.EventMessage) error
}

// SessionStore is the subset of the session repository processors use.
type SessionStore interface {
	GetByID(ctx context.Context, dbtx db.DBTX, id string) (*types.Session, error)
	UpdateStatus(ctx context.Context, dbtx db.DBTX, id string, target types.SessionStatus) (bool, error)
}

// ReminderProcessor handles the reminder and join_notice kinds: it loads the
// owning session and publishes a delivery event for it.
//
// The event id is the entry id. Re-processing after a rollback republishes
// under the same id, which is what lets consumers deduplicate.
type ReminderProcessor struct {
	routingKey string
	sessions   SessionStore
	publisher  EventPublisher
	logger     types.Logger
}

// NewReminderProcessor creates the processor for the reminder kind.
func NewReminderProcessor(sessions SessionStore, publisher EventPublisher, logger types.Logger) *ReminderProcessor {
	return &ReminderProcessor{
		routingKey: "reminder.due",
		sessions:   sessions,
		publisher:  publisher,
		logger:     logger,
	}
}

// NewJoinNoticeProcessor creates the processor for the join_notice kind.
func NewJoinNoticeProcessor(sessions SessionStore, publisher EventPublisher, logger types.Logger) *ReminderProcessor {
	return &ReminderProcessor{
		routingKey: "join_notice.due",
		sessions:   sessions,
		publisher:  publisher,
		logger:     logger,
	}
}

// Execute publishes the delivery event for the entry's session. A session
// that is gone, soft-deleted or cancelled suppresses the publish; the entry
// is still marked processed by the loop so it never fires late for a
// meeting that will not happen.
func (p *ReminderProcessor) Execute(ctx context.Context, tx db.DBTX, entry *types.ScheduleEntry) error {
	sess, err := p.sessions.GetByID(ctx, tx, entry.SessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status == types.SessionCancelled {
		p.logger.Info("suppressing event for cancelled or deleted session",
			"entry_id", entry.ID,
			"session_id", entry.SessionID,
		)
		return nil
	}

	payload := map[string]any{
		"session_title": sess.Title,
		"starts_at":     sess.StartsAt.Format(time.RFC3339),
		"lead_minutes":  entry.LeadMinutes(),
	}
	if recipient := entry.Recipient(); recipient != "" {
		payload["recipient"] = recipient
	}

	return p.publisher.Publish(ctx, types.EventMessage{
		EventID:    entry.ID,
		RoutingKey: p.routingKey,
		SessionID:  sess.ID,
		OrgID:      sess.OrgID,
		EntryID:    entry.ID,
		OccurredAt: time.Now().UTC(),
		TraceID:    uuid.New().String(),
		Payload:    payload,
	})
}

// TransitionProcessor handles the status_transition kind: it moves the
// session to the target status recorded in the entry payload and publishes
// the transition event.
type TransitionProcessor struct {
	sessions  SessionStore
	publisher EventPublisher
	logger    types.Logger
}

// NewTransitionProcessor creates the processor for the status_transition kind.
func NewTransitionProcessor(sessions SessionStore, publisher EventPublisher, logger types.Logger) *TransitionProcessor {
	return &TransitionProcessor{
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
	}
}

// Execute applies the status transition. A missing or invalid target status
// is a data error and fails the iteration; a no-op update (session already
// in the target state, gone, or soft-deleted) suppresses the publish.
func (p *TransitionProcessor) Execute(ctx context.Context, tx db.DBTX, entry *types.ScheduleEntry) error {
	target := entry.TargetStatus()
	if !target.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeEntryPayloadInvalid,
			"schedule entry carries no valid target status", nil,
			map[string]any{"entry_id": entry.ID, "target": string(target)})
	}

	sess, err := p.sessions.GetByID(ctx, tx, entry.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		p.logger.Info("suppressing transition for deleted session",
			"entry_id", entry.ID,
			"session_id", entry.SessionID,
		)
		return nil
	}

	from := sess.Status
	changed, err := p.sessions.UpdateStatus(ctx, tx, sess.ID, target)
	if err != nil {
		return err
	}
	if !changed {
		p.logger.Info("session already in target status, event suppressed",
			"session_id", sess.ID,
			"status", string(target),
		)
		return nil
	}

	return p.publisher.Publish(ctx, types.EventMessage{
		EventID:    entry.ID,
		RoutingKey: "session.status." + string(target),
		SessionID:  sess.ID,
		OrgID:      sess.OrgID,
		EntryID:    entry.ID,
		OccurredAt: time.Now().UTC(),
		TraceID:    uuid.New().String(),
		Payload: map[string]any{
			"from": string(from),
			"to":   string(target),
		},
	})
}
