package types

import "time"

// RetryPolicy defines the exponential backoff parameters shared by the
// notification listener's reconnect loop and the DLQ daemon's redelivery
// delay.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Standard policies.
var (
	// RedeliveryPolicy bounds DLQ redelivery: the retry ceiling plus the
	// per-attempt delay applied when republishing to the primary queue.
	RedeliveryPolicy = RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     30 * time.Second,
		MaxDelay:      15 * time.Minute,
		BackoffFactor: 2.0,
	}

	// ReconnectPolicy governs the listener's reconnect-and-resubscribe loop.
	// MaxAttempts is ignored there: the listener retries until its context
	// is cancelled.
	ReconnectPolicy = RetryPolicy{
		MaxAttempts:   0,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
)

// Delay computes the backoff before the given attempt using exponential
// backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffFactor
	}

	d := time.Duration(delay)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = p.MaxDelay
	}

	return d
}

// Exhausted reports whether the given attempt count has reached the retry
// ceiling. A MaxAttempts of zero means unbounded.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
