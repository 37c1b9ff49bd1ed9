package db

import (
	"context"
	"fmt"
	"strings"
)

// schemaStatements is the scheduling subsystem's relational schema, applied
// in order by EnsureSchema. Every statement is idempotent so bootstrap can be
// re-run safely against an existing database.
//
// The two partial indexes are load-bearing:
//   - schedule_entries_pending_uniq enforces "at most one unprocessed entry
//     per (session, kind)" at the store level, not in application logic.
//   - schedule_entries_due_idx backs the next-due lookup so its cost stays
//     O(log n) in the number of PENDING rows, independent of how much
//     processed history accumulates.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		org_id     UUID        NOT NULL,
		title      TEXT        NOT NULL,
		status     TEXT        NOT NULL DEFAULT 'scheduled',
		starts_at  TIMESTAMPTZ NOT NULL,
		ends_at    TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_entries (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID        NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		kind       TEXT        NOT NULL,
		due_at     TIMESTAMPTZ NOT NULL,
		processed  BOOLEAN     NOT NULL DEFAULT FALSE,
		payload    JSONB       NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS schedule_entries_pending_uniq
		ON schedule_entries (session_id, kind) WHERE processed = FALSE`,

	`CREATE INDEX IF NOT EXISTS schedule_entries_due_idx
		ON schedule_entries (kind, due_at) WHERE processed = FALSE`,
}

// notifyTriggerStatements install the change-notification publisher: an
// AFTER INSERT OR UPDATE trigger that emits pg_notify on the kind's channel
// whenever an unprocessed entry is written. The payload is a low-latency
// hint only; listeners re-query the store before acting, so a lost or
// garbled notification costs at most one safety-check interval.
//
// The channel name is '<prefix>_' || kind; the {{prefix}} placeholder is
// substituted by EnsureSchema and must match SchedulerConfig.ChannelPrefix.
var notifyTriggerStatements = []string{
	`CREATE OR REPLACE FUNCTION schedule_entries_notify() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify(
			'{{prefix}}_' || NEW.kind,
			json_build_object(
				'entry_id', NEW.id,
				'due_at', to_char(NEW.due_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
			)::text
		);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS schedule_entries_wake ON schedule_entries`,

	`CREATE TRIGGER schedule_entries_wake
		AFTER INSERT OR UPDATE ON schedule_entries
		FOR EACH ROW
		WHEN (NEW.processed = FALSE)
		EXECUTE FUNCTION schedule_entries_notify()`,
}

// EnsureSchema applies the full schema: tables, partial indexes, and the
// change-notification trigger emitting on '<channelPrefix>_<kind>' channels.
// All statements are idempotent; this is called by the bootstrap tool, never
// by the daemons themselves.
func EnsureSchema(ctx context.Context, db DBTX, channelPrefix string) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	for _, stmt := range notifyTriggerStatements {
		stmt = strings.ReplaceAll(stmt, "{{prefix}}", channelPrefix)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("installing notify trigger: %w", err)
		}
	}
	return nil
}
