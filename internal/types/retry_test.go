package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay_ExponentialGrowth(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     1 * time.Second,
		MaxDelay:      1 * time.Minute,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 1*time.Second, policy.Delay(0))
	assert.Equal(t, 2*time.Second, policy.Delay(1))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	assert.Equal(t, 8*time.Second, policy.Delay(3))
}

func TestRetryPolicy_Delay_CappedAtMax(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     30 * time.Second,
		MaxDelay:      15 * time.Minute,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 15*time.Minute, policy.Delay(10))
	// Extreme attempt counts overflow float->duration; the cap still holds.
	assert.Equal(t, 15*time.Minute, policy.Delay(500))
}

func TestRetryPolicy_Delay_NegativeAttemptTreatedAsZero(t *testing.T) {
	policy := ReconnectPolicy
	assert.Equal(t, policy.BaseDelay, policy.Delay(-3))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}

	assert.False(t, policy.Exhausted(0))
	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(7))

	// Zero MaxAttempts means unbounded (reconnect policy).
	assert.False(t, RetryPolicy{MaxAttempts: 0}.Exhausted(1000))
}
