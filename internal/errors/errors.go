// Package errors provides a unified, typed error taxonomy used across the
// collector framework, orchestrator and task executor to distinguish
// retryable from non-retryable failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Transient HTTP errors: 429, 5xx, connection reset, timeout.
	ErrCodeTransientHTTP ErrorCode = "HTTP_TRANSIENT"
	// Auth failures: 401/403. Never retried.
	ErrCodeAuthFailure ErrorCode = "AUTH_FAILURE"
	// Parse failures: malformed JSON/CSV/PDF for a single record.
	ErrCodeParseFailure ErrorCode = "PARSE_FAILURE"
	// Validation failures: per-commodity sanity checks.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// Security rejections: blocklist/allowlist match.
	ErrCodeSecurityRejected ErrorCode = "SECURITY_REJECTED"
	// Upstream not published yet: release-day 404.
	ErrCodeNotYetPublished ErrorCode = "NOT_YET_PUBLISHED"
	// Database conflicts the upsert clause failed to resolve.
	ErrCodeDatabaseConflict ErrorCode = "DATABASE_CONFLICT"
	// Internal/unclassified errors.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Retryable reports whether errors of this class should be retried by the
// caller (collector HTTP loop, task executor).
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeTransientHTTP, ErrCodeNotYetPublished:
		return true
	default:
		return false
	}
}

// CollectorError is a structured error carrying the taxonomy code plus
// enough context for audit logging and CLI summaries.
type CollectorError struct {
	Code    ErrorCode
	Message string
	Source  string
	Err     error
}

func (e *CollectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Source, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Source, e.Code, e.Message)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Retryable reports whether this error's class is retryable.
func (e *CollectorError) Retryable() bool { return e.Code.Retryable() }

// New creates a CollectorError.
func New(source string, code ErrorCode, message string) *CollectorError {
	return &CollectorError{Source: source, Code: code, Message: message}
}

// Wrap creates a CollectorError wrapping an underlying error.
func Wrap(source string, code ErrorCode, message string, err error) *CollectorError {
	return &CollectorError{Source: source, Code: code, Message: message, Err: err}
}

// IsRetryable inspects err's chain for a CollectorError and reports its
// retryability; unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var ce *CollectorError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// MaxRetriesExceeded formats the standard "Max retries exceeded" message
// used by the HTTP core and surfaced verbatim in PipelineResult errors
//.
func MaxRetriesExceeded(attempts int) string {
	return fmt.Sprintf("Max retries (%d) exceeded for request", attempts)
}
