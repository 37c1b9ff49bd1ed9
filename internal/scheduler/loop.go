// Package scheduler implements the next-due polling loop that drives
// schedule processing. One Loop runs per schedule kind; each owns a
// notification listener and re-queries the store on every wake-up, so a
// lost notification can delay work by at most one safety-check interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"rallypoint/internal/db"
	"rallypoint/internal/metrics"
	"rallypoint/internal/types"
)

// ScheduleStore is the subset of the schedule repository the loop drives.
type ScheduleStore interface {
	NextDue(ctx context.Context, dbtx db.DBTX, kind types.ScheduleKind) (*types.ScheduleEntry, error)
	MarkProcessed(ctx context.Context, dbtx db.DBTX, id string) (bool, error)
}

// Waiter blocks until a change notification arrives or the timeout elapses.
// The notify Listener implements it; a nil notice means the timeout passed.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (*types.ChangeNotice, error)
}

// Processor performs the domain action for one due entry inside the loop's
// transaction. Returning an error rolls the whole iteration back and the
// entry is retried next cycle.
type Processor interface {
	Execute(ctx context.Context, tx db.DBTX, entry *types.ScheduleEntry) error
}

// Loop is the per-kind scheduling state machine: fetch the next due entry,
// sleep until it is due (or a notification, or the safety interval), process
// it transactionally, repeat.
type Loop struct {
	kind            types.ScheduleKind
	querier         db.DBTX
	beginner        db.Beginner
	store           ScheduleStore
	waiter          Waiter
	processor       Processor
	clock           types.Clock
	safetyInterval  time.Duration
	errorRetryDelay time.Duration
	logger          types.Logger
	metrics         metrics.Recorder
}

// NewLoop creates a Loop for one schedule kind. querier serves the read
// path (the pool); beginner opens the per-entry transactions.
func NewLoop(
	kind types.ScheduleKind,
	querier db.DBTX,
	beginner db.Beginner,
	store ScheduleStore,
	waiter Waiter,
	processor Processor,
	clock types.Clock,
	safetyInterval time.Duration,
	errorRetryDelay time.Duration,
	logger types.Logger,
	rec metrics.Recorder,
) *Loop {
	return &Loop{
		kind:            kind,
		querier:         querier,
		beginner:        beginner,
		store:           store,
		waiter:          waiter,
		processor:       processor,
		clock:           clock,
		safetyInterval:  safetyInterval,
		errorRetryDelay: errorRetryDelay,
		logger:          logger.With("kind", string(kind)),
		metrics:         rec,
	}
}

// Run drives the loop until ctx is cancelled. Cancellation is a clean stop
// and returns nil; the in-flight entry finishes or rolls back first.
//
// Entries already overdue at startup are processed immediately without
// waiting for any notification, which is what recovers schedules that came
// due while the process was down.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("scheduler loop started",
		"safety_interval", l.safetyInterval.String(),
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("scheduler loop stopped")
			return nil
		}

		entry, err := l.store.NextDue(ctx, l.querier, l.kind)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("scheduler loop stopped")
				return nil
			}
			l.logger.Error("failed to fetch next due entry", "error", err.Error())
			l.metrics.RecordProcessFailure(ctx, l.kind)
			l.wait(ctx, l.errorRetryDelay)
			continue
		}

		if entry == nil {
			// Idle: nothing pending for this kind. The safety interval
			// bounds the sleep even if every notification is lost.
			l.wait(ctx, l.safetyInterval)
			continue
		}

		now := l.clock.Now()
		if entry.DueAt.After(now) {
			d := entry.DueAt.Sub(now)
			if d > l.safetyInterval {
				d = l.safetyInterval
			}
			// An earlier entry may appear while sleeping; the wake-up
			// (deadline or notification) always re-fetches.
			l.wait(ctx, d)
			continue
		}

		if err := l.process(ctx, entry); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("scheduler loop stopped")
				return nil
			}
			l.logger.Error("failed to process schedule entry",
				"entry_id", entry.ID,
				"error", err.Error(),
			)
			l.metrics.RecordProcessFailure(ctx, l.kind)
			if !isInvariantViolation(err) {
				l.wait(ctx, l.errorRetryDelay)
			}
		}
	}
}

// wait blocks for at most d, returning early on a change notification or
// cancellation. The notice is only a hint; the caller re-queries regardless.
func (l *Loop) wait(ctx context.Context, d time.Duration) {
	notice, err := l.waiter.Wait(ctx, d)
	if err != nil || notice == nil {
		return
	}
	l.logger.Info("woken by change notification",
		"channel", notice.Channel,
		"entry_id", notice.EntryID,
	)
}

// process runs one entry through its processor and marks it processed, all
// in a single transaction. Publish-before-mark ordering means a failed
// iteration re-publishes next cycle: at-least-once, deduplicated downstream
// by event id.
func (l *Loop) process(ctx context.Context, entry *types.ScheduleEntry) error {
	tx, err := l.beginner.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "failed to begin transaction", err)
	}

	if err := l.processor.Execute(ctx, tx, entry); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	changed, err := l.store.MarkProcessed(ctx, tx, entry.ID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if !changed {
		// The entry was fetched as pending moments ago; only a competing
		// writer can have flipped it. Surface loudly but keep running.
		_ = tx.Rollback(ctx)
		return types.NewAppError(types.ErrCodeEntryInvariant,
			"entry fetched as pending but already marked processed", nil)
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return types.NewAppError(types.ErrCodeStoreUnavailable, "failed to commit transaction", err)
	}

	lag := l.clock.Now().Sub(entry.DueAt)
	l.metrics.RecordProcessed(ctx, l.kind, lag)
	l.logger.Info("schedule entry processed",
		"entry_id", entry.ID,
		"lag_ms", lag.Milliseconds(),
	)
	return nil
}

func isInvariantViolation(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeEntryInvariant
}
