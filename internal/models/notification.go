// internal/models/notification.go
package models

import "time"

// EventType is the closed set of domain events that produce notifications.
type EventType string

const (
	EventRegistration          EventType = "registration"
	EventDHReviewRequest       EventType = "dh_review_request"
	EventDHApproval            EventType = "dh_approval"
	EventAdminApproval         EventType = "admin_approval"
	EventRejection             EventType = "rejection"
	EventUserDisabled          EventType = "user_disabled"
	EventUserEnabled           EventType = "user_enabled"
	EventAdminRegistration     EventType = "admin_registration"
	EventAdminAccountApproval  EventType = "admin_account_approval"
	EventAdminAccountRejection EventType = "admin_account_rejection"
	EventAdminDisabled         EventType = "admin_disabled"
	EventAdminEnabled          EventType = "admin_enabled"
	EventRevisionUploaded      EventType = "revision_uploaded"
	EventComponentChanged      EventType = "component_changed"
)

// AllEventTypes lists every EventType in declaration order.
var AllEventTypes = []EventType{
	EventRegistration,
	EventDHReviewRequest,
	EventDHApproval,
	EventAdminApproval,
	EventRejection,
	EventUserDisabled,
	EventUserEnabled,
	EventAdminRegistration,
	EventAdminAccountApproval,
	EventAdminAccountRejection,
	EventAdminDisabled,
	EventAdminEnabled,
	EventRevisionUploaded,
	EventComponentChanged,
}

func (e EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// QueuePriority maps a notification priority onto the delivery queue scale.
func (p Priority) QueuePriority() int {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityMedium:
		return 5
	default:
		return 1
	}
}

// AtLeast reports whether p is as urgent as threshold.
func (p Priority) AtLeast(threshold Priority) bool {
	return p.QueuePriority() >= threshold.QueuePriority()
}

// Notification is one persisted message to one recipient.
type Notification struct {
	ID             string                 `json:"id"`
	RecipientID    string                 `json:"recipientId"`
	RecipientKind  RecipientKind          `json:"recipientKind"`
	Type           EventType              `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data"`
	IsRead         bool                   `json:"isRead"`
	ReadAt         *time.Time             `json:"readAt,omitempty"`
	IsDeleted      bool                   `json:"isDeleted"`
	DeletedAt      *time.Time             `json:"deletedAt,omitempty"`
	Priority       Priority               `json:"priority"`
	ActionRequired bool                   `json:"actionRequired"`
	ActionURL      string                 `json:"actionUrl,omitempty"`
	Sequence       int64                  `json:"sequence"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// Event is one (recipient, event) pair handed to the notification service.
type Event struct {
	Type          EventType              `json:"type"`
	RecipientID   string                 `json:"recipientId"`
	RecipientKind RecipientKind          `json:"recipientKind"`
	Data          map[string]interface{} `json:"data,omitempty"`
	SendEmail     bool                   `json:"sendEmail"`
}

// Page is a slice of a recipient's inbox.
type Page struct {
	Items       []Notification `json:"items"`
	Page        int            `json:"page"`
	Limit       int            `json:"limit"`
	Total       int64          `json:"total"`
	UnreadCount int64          `json:"unreadCount"`
}
