package emailsend

import (
	"time"

	"approval-notify/internal/common/logger"
)

// Result reports the outcome of one email. SendEmail always returns one instead of an error.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Retryable bool      `json:"retryable"`
	SentAt    time.Time `json:"sentAt,omitempty"`
}

type ServiceDependencies struct {
	Logger logger.Logger
	Sender Sender
}
