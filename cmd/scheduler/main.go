// Package main is the entry point for the Rallypoint scheduler daemon.
//
// The scheduler runs one loop per schedule kind. Each loop holds its own
// LISTEN connection for wake-up notifications, fetches the next due entry
// from Postgres, and processes it inside a transaction: load the owning
// session, publish the resulting event to SQS, mark the entry processed.
//
// An operational HTTP server exposes /health and /livez alongside the loops.
// The process expects queue topology to already exist; it resolves queue
// URLs at startup and exits non-zero if any are missing (run the bootstrap
// tool first).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// in-flight entries finish or roll back before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"rallypoint/internal/config"
	"rallypoint/internal/core"
	"rallypoint/internal/db"
	"rallypoint/internal/metrics"
	"rallypoint/internal/notify"
	"rallypoint/internal/queue"
	"rallypoint/internal/scheduler"
	"rallypoint/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := newLogger(cfg.LogLevel)
	logger := &slogAdapter{logger: slogger}
	slogger.Info("rallypoint scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Environment != "local" {
		recorder = metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	// Queue topology is provisioned by bootstrap, never by the daemons.
	// Resolve fails fast when a queue is missing so a half-provisioned
	// deployment cannot silently drop events.
	topo := queue.NewTopology(sqsClient, cfg.AWS.QueuePrefix, cfg.Environment, queue.DefaultTopology(), logger)
	resolved, err := topo.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving queue topology: %w", err)
	}

	publisher, err := queue.NewPublisher(sqsClient, resolved, cfg.Scheduler.CompressionThreshold, logger, recorder)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	scheduleRepo := db.NewScheduleRepository()
	sessionRepo := db.NewSessionRepository()
	clock := types.RealClock{}

	// One loop and one LISTEN connection per kind. WaitForNotification is a
	// single-connection operation, so loops cannot share a listener.
	var listeners []*notify.Listener
	var loops []*scheduler.Loop
	for _, kind := range types.AllScheduleKinds {
		listener := notify.NewListener(cfg.Database.URL, cfg.Scheduler.ChannelPrefix, []types.ScheduleKind{kind}, logger, recorder)
		if err := listener.Connect(ctx, cfg.Scheduler.StartupConnectAttempts); err != nil {
			return fmt.Errorf("connecting listener for %s: %w", kind, err)
		}
		listeners = append(listeners, listener)

		loops = append(loops, scheduler.NewLoop(
			kind,
			pool,
			db.PoolBeginner{Pool: pool},
			scheduleRepo,
			listener,
			processorFor(kind, sessionRepo, publisher, logger),
			clock,
			cfg.Scheduler.SafetyCheckInterval,
			cfg.Scheduler.ErrorRetryDelay,
			logger,
			recorder,
		))
	}
	defer func() {
		for _, l := range listeners {
			l.Close(context.Background())
		}
	}()

	srv, err := core.NewServer(cfg, slogger, core.DatabaseProbe{Pool: pool})
	if err != nil {
		return fmt.Errorf("creating ops server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}

	slogger.Info("rallypoint scheduler started", "kinds", len(loops))
	return g.Wait()
}

// processorFor selects the entry processor for a schedule kind.
func processorFor(kind types.ScheduleKind, sessions scheduler.SessionStore, publisher scheduler.EventPublisher, logger types.Logger) scheduler.Processor {
	switch kind {
	case types.KindJoinNotice:
		return scheduler.NewJoinNoticeProcessor(sessions, publisher, logger)
	case types.KindStatusTransition:
		return scheduler.NewTransitionProcessor(sessions, publisher, logger)
	default:
		return scheduler.NewReminderProcessor(sessions, publisher, logger)
	}
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
