// internal/workers/application/send-notification/models.go
package sendnotification

import "time"

// Output summarizes one execution of a delivery job.
type Output struct {
	NotificationID string    `json:"notificationId"`
	Status         string    `json:"status"`
	EmailMessageID string    `json:"emailMessageId,omitempty"`
	SMSMessageID   string    `json:"smsMessageId,omitempty"`
	SentAt         time.Time `json:"sentAt"`
}

// Statuses
const (
	StatusSent     = "sent"
	StatusInApp    = "in_app_only"
	StatusDisabled = "disabled"
)
