package errors

import (
	"time"
)

// Logger is the subset of the logging interface the handler needs.
type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// JobFailure describes a failed delivery attempt.
type JobFailure struct {
	JobID          string
	NotificationID string
	Kind           string
	Attempt        int
	MaxAttempts    int
}

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry bool
	Err   *StandardError
}

// ErrorHandler classifies failed delivery jobs into retry or terminal failure.
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError normalizes err, logs it and decides whether the job is retried.
func (h *ErrorHandler) HandleJobError(job JobFailure, err error) Decision {
	stdErr := h.normalizeError(err)

	retry := stdErr.Retryable && GetRetryCount(stdErr.Code) > 0 && job.Attempt < job.MaxAttempts
	h.logError(job, stdErr, retry)

	return Decision{Retry: retry, Err: stdErr}
}

func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func (h *ErrorHandler) logError(job JobFailure, stdErr *StandardError, retry bool) {
	fields := map[string]interface{}{
		"jobId":          job.JobID,
		"notificationId": job.NotificationID,
		"kind":           job.Kind,
		"attempt":        job.Attempt,
		"maxAttempts":    job.MaxAttempts,
		"errorCode":      string(stdErr.Code),
		"message":        stdErr.Message,
		"details":        stdErr.Details,
		"retryable":      stdErr.Retryable,
		"errorCategory":  GetErrorCategory(stdErr.Code),
	}
	if retry {
		h.logger.Warn("Delivery job failed, will retry", fields)
		return
	}
	h.logger.Error("Delivery job failed permanently", fields)
}
