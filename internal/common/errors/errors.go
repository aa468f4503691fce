// Package errors provides the structured error type shared by the approval and delivery layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Approval state machine errors.
const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeAlreadyFinalized ErrorCode = "ALREADY_FINALIZED"
)

// Request and infrastructure errors.
const (
	ErrCodeValidationFailed         ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnauthorized             ErrorCode = "UNAUTHORIZED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// Notification pipeline errors.
const (
	ErrCodeDeliveryFailure     ErrorCode = "DELIVERY_FAILURE"
	ErrCodeTemplateNotFound    ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeQueueUnavailable    ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeInvalidEmailAddress ErrorCode = "INVALID_EMAIL_ADDRESS"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// WithMetadata attaches a key to the error and returns it.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewNotFoundError reports a missing account or record.
func NewNotFoundError(kind, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", kind), fmt.Sprintf("id: %s", id), false, nil).
		WithMetadata("kind", kind).
		WithMetadata("id", id)
}

// NewForbiddenError reports an actor lacking authority over the target.
func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Actor is not allowed to perform this action", details, false, nil)
}

// NewInvalidStateError reports a transition whose preconditions do not hold.
func NewInvalidStateError(details string) *StandardError {
	return newError(ErrCodeInvalidState, "Account is not in a state that allows this transition", details, false, nil)
}

// NewAlreadyFinalizedError reports an attempt to re-decide a final stage.
func NewAlreadyFinalizedError(details string) *StandardError {
	return newError(ErrCodeAlreadyFinalized, "Review stage has already been decided", details, false, nil)
}

// NewValidationError reports malformed input.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Input validation failed", details, false, nil)
}

// NewUnauthorizedError reports a missing or invalid credential.
func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Authentication required", details, false, nil)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true, err)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true, err)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// NewDeliveryFailureError reports that a notification could not be handed to a channel.
func NewDeliveryFailureError(channel string, err error) *StandardError {
	return newError(ErrCodeDeliveryFailure, fmt.Sprintf("Delivery via %s failed", channel), err.Error(), true, err).
		WithMetadata("channel", channel)
}

// NewTemplateNotFoundError reports an (event, recipient kind) pair without wording.
func NewTemplateNotFoundError(event, kind string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "No template for event and recipient kind",
		fmt.Sprintf("event: %s, recipientKind: %s", event, kind), false, nil)
}

// NewQueueUnavailableError reports that the delivery queue rejected an operation.
func NewQueueUnavailableError(op string, err error) *StandardError {
	return newError(ErrCodeQueueUnavailable, "Delivery queue unavailable",
		fmt.Sprintf("op: %s, error: %s", op, err.Error()), true, err)
}

// NewInvalidEmailAddressError reports an unparseable recipient or sender.
func NewInvalidEmailAddressError(address string, err error) *StandardError {
	return newError(ErrCodeInvalidEmailAddress, "Invalid email address",
		fmt.Sprintf("address: %s, error: %s", address, err.Error()), false, err)
}

// As extracts a *StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR when err carries none.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code onto the response status of the HTTP surface.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidState, ErrCodeAlreadyFinalized:
		return http.StatusConflict
	case ErrCodeValidationFailed, ErrCodeInvalidEmailAddress:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeQueueUnavailable, ErrCodeDatabaseConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDeliveryFailure,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeQueueUnavailable:
		return 3
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeNotFound, code == ErrCodeForbidden,
		code == ErrCodeInvalidState, code == ErrCodeAlreadyFinalized:
		return "APPROVAL"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "DELIVERY") || strings.Contains(codeStr, "QUEUE") || strings.Contains(codeStr, "EMAIL"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "VALIDATION") || code == ErrCodeUnauthorized:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
