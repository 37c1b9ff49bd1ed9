package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Transient connectivity (recovered locally with backoff, never fatal)
	ErrCodeStoreUnavailable   ErrorCode = "store_unavailable"
	ErrCodeQueuePublishFailed ErrorCode = "queue_publish_failed"
	ErrCodeQueueReceiveFailed ErrorCode = "queue_receive_failed"
	ErrCodeQueueCircuitOpen   ErrorCode = "queue_circuit_open"
	ErrCodeNotifyConnectFailed ErrorCode = "notify_connect_failed"

	// Data errors (rolled back, logged with entry id, loop continues)
	ErrCodeStoreQuery          ErrorCode = "store_query_failed"
	ErrCodeStoreConflict       ErrorCode = "store_conflict"
	ErrCodeEntryPayloadInvalid ErrorCode = "entry_payload_invalid"

	// Invariant violations (iteration-fatal, never process-fatal)
	ErrCodeEntryInvariant ErrorCode = "entry_invariant_violation"

	// Startup failures (non-zero process exit)
	ErrCodeConfigInvalid       ErrorCode = "config_invalid"
	ErrCodeTopologyUnavailable ErrorCode = "topology_unavailable"

	// Catch-all
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// Transient reports whether an ErrorCode represents a transient connectivity
// failure that should be retried locally (reconnect/backoff) rather than
// surfaced as an iteration or startup failure.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrCodeStoreUnavailable,
		ErrCodeQueuePublishFailed,
		ErrCodeQueueReceiveFailed,
		ErrCodeQueueCircuitOpen,
		ErrCodeNotifyConnectFailed:
		return true
	}
	return false
}

// Startup reports whether an ErrorCode represents an unrecoverable startup
// failure. Binaries exit non-zero when run() returns an error carrying one
// of these codes; everything else is handled in-process.
func (c ErrorCode) Startup() bool {
	return strings.HasPrefix(string(c), "config_") || c == ErrCodeTopologyUnavailable
}

// AppError is the standard application error type used throughout the platform.
// All domain errors should be expressed as AppError to enable consistent
// error formatting, transient/fatal classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Transient reports whether this error is a transient connectivity failure.
func (e *AppError) Transient() bool {
	return e.Code.Transient()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsTransient walks an error chain and reports whether it contains a
// transient AppError. Non-AppError chains are conservatively treated as
// non-transient.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Transient()
	}
	return false
}
