// Package main is the entry point for the Rallypoint retry daemon.
//
// The retry daemon sweeps every dead-letter queue on a fixed interval and
// redelivers failed events back to their primary queue with exponential
// backoff, applied via per-message DelaySeconds. Messages that have
// exhausted the retry ceiling are dropped with a permanent-failure metric
// instead of cycling forever.
//
// An operational HTTP server exposes /health and /livez. The health probe
// reports unhealthy when sweeps fail consecutively or stop making progress,
// which is the signal an orchestrator uses to restart the process.
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
	"rallypoint/internal/metrics"
	"rallypoint/internal/queue"
	"rallypoint/internal/retry"
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
	slogger.Info("rallypoint retry daemon starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	topo := queue.NewTopology(sqsClient, cfg.AWS.QueuePrefix, cfg.Environment, queue.DefaultTopology(), logger)
	resolved, err := topo.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving queue topology: %w", err)
	}

	daemon, err := retry.NewDaemon(sqsClient, retry.PairsFromTopology(resolved), cfg.Retry, types.RealClock{}, logger, recorder)
	if err != nil {
		return fmt.Errorf("creating retry daemon: %w", err)
	}

	sweepProbe := core.FuncProbe{
		ProbeName: "retry-sweeps",
		CheckFn: func(ctx context.Context) error {
			if !daemon.Healthy() {
				return fmt.Errorf("sweeps stalled or failing")
			}
			return nil
		},
	}

	srv, err := core.NewServer(cfg, slogger, sweepProbe)
	if err != nil {
		return fmt.Errorf("creating ops server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return daemon.Run(gctx)
	})

	slogger.Info("rallypoint retry daemon started", "queues", len(resolved))
	return g.Wait()
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
