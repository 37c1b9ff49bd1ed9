package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"rallypoint/internal/db"
	"rallypoint/internal/queue"
	"rallypoint/internal/types"
)

// RunnerOptions holds the provisioning inputs parsed from flags and the
// environment.
type RunnerOptions struct {
	// QueuePrefix is the leading segment of every physical queue name.
	// Must match the daemons' QUEUE_PREFIX.
	QueuePrefix string

	// ChannelPrefix is the leading segment of the wake-notification
	// channels installed by the triggers. Must match the daemons'
	// NOTIFY_CHANNEL_PREFIX.
	ChannelPrefix string

	// SkipSchema skips the database phase entirely, for deployments where
	// migrations are applied by a separate pipeline.
	SkipSchema bool

	// DatabaseURL is the connection string used both to apply the schema
	// and as the value written to SSM. Read from the DATABASE_URL
	// environment variable, never from a flag, so it stays out of shell
	// history.
	DatabaseURL string
}

// Runner executes the bootstrap phases in order: database schema, queue
// topology, SSM parameters. Each phase is idempotent so the tool can be
// re-run after a partial failure.
type Runner struct {
	bctx *BootstrapContext
	opts RunnerOptions

	// SSM is exported so main can reuse the manager for --export-env.
	SSM *SSMManager

	resolved []queue.ResolvedQueue
}

// NewRunner creates the bootstrap runner for the session.
func NewRunner(bctx *BootstrapContext, opts RunnerOptions) *Runner {
	return &Runner{
		bctx: bctx,
		opts: opts,
		SSM:  NewSSMManager(bctx),
	}
}

// Run executes all bootstrap phases.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.provisionSchema(ctx); err != nil {
		return fmt.Errorf("database phase: %w", err)
	}
	if err := r.provisionQueues(ctx); err != nil {
		return fmt.Errorf("queue phase: %w", err)
	}
	if err := r.writeParameters(ctx); err != nil {
		return fmt.Errorf("parameter phase: %w", err)
	}
	return nil
}

// provisionSchema applies the schema and installs the wake-notification
// triggers. Every statement is idempotent.
func (r *Runner) provisionSchema(ctx context.Context) error {
	if r.opts.SkipSchema {
		r.bctx.Logger.Info("skipping database schema (--skip-schema)")
		return nil
	}
	if r.opts.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set (or pass --skip-schema)")
	}

	pool, err := pgxpool.New(ctx, r.opts.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	if err := db.EnsureSchema(ctx, pool, r.opts.ChannelPrefix); err != nil {
		return err
	}

	r.bctx.Logger.Info("database schema applied",
		"channel_prefix", r.opts.ChannelPrefix,
	)
	return nil
}

// provisionQueues creates every queue in the topology along with its DLQ
// and redrive policy. Existing queues are reconciled, not recreated.
func (r *Runner) provisionQueues(ctx context.Context) error {
	topo := queue.NewTopology(
		newSQSClient(r.bctx),
		r.opts.QueuePrefix,
		r.bctx.Environment,
		queue.DefaultTopology(),
		&slogAdapter{logger: r.bctx.Logger},
	)

	resolved, err := topo.Ensure(ctx)
	if err != nil {
		return err
	}

	r.resolved = resolved
	for _, q := range resolved {
		r.bctx.Logger.Info("queue provisioned",
			"queue", q.Spec.Name,
			"url", q.URL,
			"dlq_url", q.DLQURL,
		)
	}
	return nil
}

// writeParameters publishes the shared configuration to SSM. The database
// URL is a SecureString and is never overwritten on re-run; the
// non-sensitive prefixes are plain Strings and always refreshed.
func (r *Runner) writeParameters(ctx context.Context) error {
	if r.opts.DatabaseURL != "" {
		path := r.SSM.SSMPath("database/url")
		exists, err := r.SSM.ParameterExists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			r.bctx.Logger.Info("SSM parameter already present, leaving as-is", "path", path)
		} else if err := r.SSM.PutSecret(ctx, path, r.opts.DatabaseURL, false); err != nil {
			return err
		}
	}

	if err := r.SSM.PutString(ctx, r.SSM.SSMPath("queue/prefix"), r.opts.QueuePrefix); err != nil {
		return err
	}
	if err := r.SSM.PutString(ctx, r.SSM.SSMPath("notify/channel_prefix"), r.opts.ChannelPrefix); err != nil {
		return err
	}

	// Queue URLs are recorded for operators and downstream consumers; the
	// daemons themselves re-resolve by name at startup.
	for _, q := range r.resolved {
		if err := r.SSM.PutString(ctx, r.SSM.SSMPath("queue/"+q.Spec.Name+"/url"), q.URL); err != nil {
			return err
		}
		if err := r.SSM.PutString(ctx, r.SSM.SSMPath("queue/"+q.Spec.Name+"/dlq_url"), q.DLQURL); err != nil {
			return err
		}
	}
	return nil
}

// slogAdapter bridges *slog.Logger to the types.Logger interface the
// topology expects.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
