package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeInvalidToken ErrorCode = "invalid_token"

	// Validation
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	ErrCodeInvalidIndex ErrorCode = "invalid_index"
	ErrCodeBodyTooLarge ErrorCode = "body_too_large"

	// Resource
	ErrCodeNotFound ErrorCode = "not_found"

	// Session lifecycle
	ErrCodeOutOfOrderStart    ErrorCode = "out_of_order_start"
	ErrCodeOutOfOrderComplete ErrorCode = "out_of_order_complete"
	ErrCodeSessionCompleted   ErrorCode = "session_completed"
	ErrCodeSessionCancelled   ErrorCode = "session_cancelled"

	// Plan limits
	ErrCodeDailyMinutesExceeded ErrorCode = "daily_minutes_exceeded"
	ErrCodeXPCapReached         ErrorCode = "xp_cap_reached"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"

	// Data access
	ErrCodeDailyLimitQueryFailed ErrorCode = "daily_limit_query_failed"
	ErrCodeLoadFailed            ErrorCode = "load_failed"
	ErrCodeSaveFailed            ErrorCode = "save_failed"
	ErrCodeXPLookupFailed        ErrorCode = "xp_lookup_failed"
	ErrCodeXPWindowFailed        ErrorCode = "xp_window_failed"
	ErrCodeXPInsertFailed        ErrorCode = "xp_insert_failed"

	// Internal
	ErrCodeInternal ErrorCode = "internal_error"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithMeta merges structured metadata into the error
func (e *AppError) WithMeta(meta map[string]any) *AppError {
	if e.Meta == nil {
		e.Meta = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		e.Meta[k] = v
	}
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func BodyTooLarge(limit int64) *AppError {
	return New(ErrCodeBodyTooLarge, "Request body too large").
		WithMeta(map[string]any{"limit": limit})
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidIndex(index, length int) *AppError {
	return New(ErrCodeInvalidIndex, "Item index out of bounds").
		WithMeta(map[string]any{"index": index, "length": length})
}

func OutOfOrderStart(index, active int) *AppError {
	return New(ErrCodeOutOfOrderStart, "Cannot start future items").
		WithMeta(map[string]any{"index": index, "active": active})
}

func OutOfOrderComplete(index, active int) *AppError {
	return New(ErrCodeOutOfOrderComplete, "Complete blocks sequentially").
		WithMeta(map[string]any{"index": index, "active": active})
}

func SessionCompleted() *AppError {
	return New(ErrCodeSessionCompleted, "Session already completed")
}

func SessionCancelled() *AppError {
	return New(ErrCodeSessionCancelled, "Session was cancelled")
}

// PlanLimit reports a plan-tier ceiling. allowed is the tier's daily
// allowance and remaining what was still available before the request.
func PlanLimit(code ErrorCode, allowed, remaining int) *AppError {
	return New(code, string(code)).
		WithMeta(map[string]any{"allowed": allowed, "remaining": remaining})
}

func DailyMinutesExceeded(allowed, remaining int) *AppError {
	return PlanLimit(ErrCodeDailyMinutesExceeded, allowed, remaining)
}

func XPCapReached(allowed, remaining int) *AppError {
	return PlanLimit(ErrCodeXPCapReached, allowed, remaining)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

// DataAccess wraps a storage failure under one of the *_failed codes.
func DataAccess(code ErrorCode, cause error) *AppError {
	return Wrap(code, "Data access failed", cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
