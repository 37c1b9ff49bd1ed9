// Package config defines the global configuration structure for the Rallypoint
// scheduling subsystem. Configuration is loaded once at process start and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// non-zero immediately on startup (fail fast).
package config

import (
	"time"

	"rallypoint/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the scheduling subsystem.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"rallypoint-scheduler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Scheduler SchedulerConfig
	Retry     RetryConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the operational HTTP server settings. The ops server
// only exposes health endpoints; there is no user-facing surface.
type ServerConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS regional configuration and the queue naming scheme.
// Queue URLs are resolved at startup from the topology, not configured
// individually: the daemons must agree on the same physical names the
// bootstrap tool provisioned.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// QueuePrefix is the leading segment of every physical queue name:
	// "<prefix>-<env>-<queue>". Shared by bootstrap and the daemons.
	QueuePrefix string `envconfig:"QUEUE_PREFIX" default:"rallypoint"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig holds the scheduler loop tuning knobs shared by all
// schedule kinds.
type SchedulerConfig struct {
	// SafetyCheckInterval bounds how long a loop will go without re-querying
	// the store, which bounds worst-case delivery latency when notifications
	// are missed.
	SafetyCheckInterval time.Duration `envconfig:"SAFETY_CHECK_INTERVAL" default:"5m"`

	// ErrorRetryDelay is the wait after a failed fetch or process iteration
	// before the next fetch. Interruptible by a change notification.
	ErrorRetryDelay time.Duration `envconfig:"ERROR_RETRY_DELAY" default:"10s"`

	// ChannelPrefix is the leading segment of every notification channel
	// name: "<prefix>_<kind>". Must match the trigger installed by bootstrap.
	ChannelPrefix string `envconfig:"NOTIFY_CHANNEL_PREFIX" default:"schedule_wake"`

	// StartupConnectAttempts is the budget for the initial store and
	// listener connections; exhausting it is an unrecoverable startup
	// failure.
	StartupConnectAttempts int `envconfig:"STARTUP_CONNECT_ATTEMPTS" default:"5"`

	// CompressionThreshold is the body size in bytes above which published
	// events are zstd-compressed.
	CompressionThreshold int `envconfig:"EVENT_COMPRESSION_THRESHOLD" default:"65536"`
}

// RetryConfig holds the DLQ daemon tuning knobs.
type RetryConfig struct {
	// MaxAttempts is the retry ceiling: redeliveries at or above this count
	// are dropped with a permanent-failure event.
	MaxAttempts int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3" validate:"min=1"`

	// SweepInterval is how often every DLQ is drained.
	SweepInterval time.Duration `envconfig:"RETRY_SWEEP_INTERVAL" default:"30s"`

	// BatchSize is the maximum messages pulled per DLQ receive call.
	// SQS caps this at 10.
	BatchSize int `envconfig:"RETRY_BATCH_SIZE" default:"10" validate:"min=1,max=10"`

	// BaseDelay and MaxDelay shape the redelivery backoff applied via
	// per-message DelaySeconds on republish.
	BaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"30s"`
	MaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY" default:"15m"`

	// Health thresholds for the liveness predicate.
	MaxConsecutiveFailures int           `envconfig:"RETRY_MAX_CONSECUTIVE_FAILURES" default:"5"`
	StalenessBound         time.Duration `envconfig:"RETRY_STALENESS_BOUND" default:"5m"`
}

// Policy builds the types.RetryPolicy the daemon applies to redeliveries.
func (c RetryConfig) Policy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts:   c.MaxAttempts,
		BaseDelay:     c.BaseDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: 2.0,
	}
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
