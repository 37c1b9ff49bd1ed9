// Package notify maintains a dedicated Postgres LISTEN connection and turns
// incoming notifications into wake-up hints for the scheduler loops.
//
// The connection is deliberately separate from the pgxpool used for queries:
// LISTEN subscriptions are per-session, and a pooled connection could be
// recycled out from under the subscription.
package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rallypoint/internal/metrics"
	"rallypoint/internal/types"
)

// listenConn is the subset of *pgx.Conn the listener needs. Tests substitute
// a fake through the dial hook.
type listenConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context, connString string) (listenConn, error)

func pgxDial(ctx context.Context, connString string) (listenConn, error) {
	return pgx.Connect(ctx, connString)
}

// Listener wraps a single Postgres connection subscribed to one or more
// notification channels. It is not safe for concurrent use; each scheduler
// loop owns its own Listener.
type Listener struct {
	connString string
	channels   []string
	dial       dialFunc
	policy     types.RetryPolicy
	logger     types.Logger
	metrics    metrics.Recorder

	conn listenConn
}

// NewListener creates a Listener for the channels '<prefix>_<kind>'. It does
// not connect; call Connect before the first Wait.
func NewListener(dbURL types.SecretString, channelPrefix string, kinds []types.ScheduleKind, logger types.Logger, rec metrics.Recorder) *Listener {
	channels := make([]string, 0, len(kinds))
	for _, k := range kinds {
		channels = append(channels, channelPrefix+"_"+string(k))
	}
	return &Listener{
		connString: dbURL.Unmask(),
		channels:   channels,
		dial:       pgxDial,
		policy:     types.ReconnectPolicy,
		logger:     logger,
		metrics:    rec,
	}
}

// Channels returns the notification channels this listener subscribes to.
func (l *Listener) Channels() []string {
	return append([]string(nil), l.channels...)
}

// Connect establishes the LISTEN connection, retrying up to maxAttempts
// times with backoff. It is the startup path: exhausting the budget is
// fatal to the process, unlike mid-run drops which Wait absorbs.
func (l *Listener) Connect(ctx context.Context, maxAttempts int) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = l.connect(ctx)
		if lastErr == nil {
			return nil
		}
		l.logger.Warn("listener connect attempt failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr.Error(),
		)
		if attempt < maxAttempts {
			if err := l.sleep(ctx, l.policy.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return types.NewAppError(types.ErrCodeNotifyConnectFailed, "failed to establish listen connection", lastErr)
}

func (l *Listener) connect(ctx context.Context) error {
	conn, err := l.dial(ctx, l.connString)
	if err != nil {
		return err
	}
	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(ctx)
			return err
		}
	}
	l.conn = conn
	return nil
}

// Wait blocks until a notification arrives, the timeout elapses, or ctx is
// cancelled. It returns (nil, nil) on timeout so callers fall through to
// their periodic re-check, and (nil, ctx.Err()) on cancellation.
//
// A dropped connection is absorbed here: Wait reconnects with backoff for
// the remainder of the timeout window and never surfaces the network error.
// The store re-query on every wake makes a lost notification harmless.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) (*types.ChangeNotice, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if l.conn == nil {
			if err := l.reconnect(waitCtx); err != nil {
				return l.waitResult(ctx)
			}
		}

		n, err := l.conn.WaitForNotification(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return l.waitResult(ctx)
			}
			l.logger.Warn("listen connection lost", "error", err.Error())
			l.dropConn(ctx)
			continue
		}

		notice := types.DecodeChangeNotice(n.Channel, []byte(n.Payload))
		return &notice, nil
	}
}

// waitResult maps an expired wait window to the Wait contract: a parent
// cancellation propagates, an elapsed timeout reads as a quiet interval.
func (l *Listener) waitResult(parent context.Context) (*types.ChangeNotice, error) {
	if parent.Err() != nil {
		return nil, parent.Err()
	}
	return nil, nil
}

// reconnect re-dials and re-subscribes with backoff until it succeeds or
// ctx expires.
func (l *Listener) reconnect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := l.connect(ctx)
		if err == nil {
			for _, ch := range l.channels {
				l.metrics.RecordListenerReconnect(ctx, ch)
			}
			l.logger.Info("listen connection re-established", "channels", l.channels)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("listener reconnect failed",
			"attempt", attempt,
			"error", err.Error(),
		)
		if err := l.sleep(ctx, l.policy.Delay(attempt)); err != nil {
			return err
		}
	}
}

func (l *Listener) dropConn(ctx context.Context) {
	if l.conn == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = l.conn.Close(closeCtx)
	l.conn = nil
}

func (l *Listener) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close tears down the LISTEN connection.
func (l *Listener) Close(ctx context.Context) {
	l.dropConn(ctx)
}
