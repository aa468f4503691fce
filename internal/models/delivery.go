// internal/models/delivery.go
package models

import "time"

// JobKind tags which legs a delivery job carries.
type JobKind string

const (
	JobInApp JobKind = "in-app"
	JobEmail JobKind = "email"
	JobBoth  JobKind = "both"
)

// EmailPayload is a fully rendered outbound email.
type EmailPayload struct {
	To       string   `json:"to"`
	ToName   string   `json:"toName,omitempty"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"htmlBody"`
	TextBody string   `json:"textBody,omitempty"`
	Priority Priority `json:"priority"`
}

// SMSPayload is a fully rendered text alert.
type SMSPayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// DeliveryJob is a queued unit of outbound work derived from one notification.
type DeliveryJob struct {
	ID             string        `json:"id"`
	Kind           JobKind       `json:"kind"`
	Priority       int           `json:"priority"`
	NotificationID string        `json:"notificationId"`
	InApp          *Notification `json:"inApp,omitempty"`
	Email          *EmailPayload `json:"email,omitempty"`
	SMS            *SMSPayload   `json:"sms,omitempty"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"maxAttempts"`
	LastError      string        `json:"lastError,omitempty"`
	EmailDelivered bool          `json:"emailDelivered"`
	SMSDelivered   bool          `json:"smsDelivered"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	NextAttemptAt  time.Time     `json:"nextAttemptAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
}

// KindFor derives the job kind from the legs present.
func KindFor(inApp bool, email bool) JobKind {
	switch {
	case inApp && email:
		return JobBoth
	case email:
		return JobEmail
	default:
		return JobInApp
	}
}

// HasEmailLeg reports whether the job still owes an email.
func (j *DeliveryJob) HasEmailLeg() bool {
	return j.Email != nil && (j.Kind == JobEmail || j.Kind == JobBoth)
}
