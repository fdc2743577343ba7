package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies failures against the upstream API.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates missing or invalid credentials.
	// Never retried and never masked by stale fallback.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
	// ErrCodeUnauthorized indicates the upstream rejected the API key.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimited indicates upstream rate limiting (HTTP 429).
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeTimeout indicates the upstream call timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeUpstreamUnavailable indicates a transient upstream failure.
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// UpstreamError is a classified error from the upstream API or its client.
type UpstreamError struct {
	Code    ErrorCode
	Message string
	Cause   error

	// RetryAfter is the wait hinted by a 429 response, when present.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Configuration creates a configuration error.
func Configuration(msg string) *UpstreamError {
	return &UpstreamError{Code: ErrCodeConfiguration, Message: msg}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *UpstreamError {
	return &UpstreamError{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimited creates a rate-limited error carrying the Retry-After hint.
func RateLimited(msg string, retryAfter time.Duration) *UpstreamError {
	return &UpstreamError{Code: ErrCodeRateLimited, Message: msg, RetryAfter: retryAfter}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *UpstreamError {
	return &UpstreamError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}

// Unavailable creates a transient upstream error.
func Unavailable(msg string, cause error) *UpstreamError {
	return &UpstreamError{Code: ErrCodeUpstreamUnavailable, Message: msg, Cause: cause}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *UpstreamError {
	return &UpstreamError{Code: ErrCodeInvalidArgument, Message: msg}
}

// CodeOf returns the error code of err, or "" when err is unclassified.
func CodeOf(err error) ErrorCode {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

// IsConfiguration reports whether err is client-correctable: bad or
// missing credentials, or upstream auth rejection.
func IsConfiguration(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeConfiguration || code == ErrCodeUnauthorized
}

// Retryable reports whether err is worth retrying with backoff.
// Unclassified errors are treated as transient.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfiguration, ErrCodeUnauthorized, ErrCodeInvalidArgument:
		return false
	default:
		return err != nil
	}
}

// RetryAfterOf returns the Retry-After hint carried by a rate-limited
// error, or false when there is none.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Code == ErrCodeRateLimited && ue.RetryAfter > 0 {
		return ue.RetryAfter, true
	}
	return 0, false
}
