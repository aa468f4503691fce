// internal/models/account.go
package models

import "time"

// RecipientKind identifies which actor table an id refers to.
type RecipientKind string

const (
	KindSubject       RecipientKind = "subject"
	KindAdministrator RecipientKind = "administrator"
)

func (k RecipientKind) Valid() bool {
	return k == KindSubject || k == KindAdministrator
}

// DHApprovalStatus is the department-head stage of subject review.
type DHApprovalStatus string

const (
	DHNotRequired DHApprovalStatus = "not_required"
	DHPending     DHApprovalStatus = "pending"
	DHApproved    DHApprovalStatus = "approved"
	DHRejected    DHApprovalStatus = "rejected"
)

// Cleared reports whether the admin stage may proceed.
func (s DHApprovalStatus) Cleared() bool {
	return s == DHApproved || s == DHNotRequired
}

// ReviewStatus is used for the admin stage, the derived isApproved gate and administrator accounts.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status log tags.
const (
	StatusRegistered        = "registered"
	StatusDHReviewRequested = "dh_review_requested"
	StatusDHApproved        = "dh_approved"
	StatusDHRejected        = "dh_rejected"
	StatusAdminApproved     = "admin_approved"
	StatusAdminRejected     = "admin_rejected"
	StatusAccountApproved   = "account_approved"
	StatusAccountRejected   = "account_rejected"
	StatusDisabled          = "disabled"
	StatusEnabled           = "enabled"
)

// Subject is a reviewer-subject account.
type Subject struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Email               string           `json:"email"`
	Phone               string           `json:"phone,omitempty"`
	Role                string           `json:"role"`
	Department          string           `json:"department"`
	Designation         string           `json:"designation"`
	DHApprovalStatus    DHApprovalStatus `json:"dhApprovalStatus"`
	AdminApprovalStatus ReviewStatus     `json:"adminApprovalStatus"`
	IsApproved          ReviewStatus     `json:"isApproved"`
	ApprovedBy          string           `json:"approvedBy,omitempty"`
	IsDisabled          bool             `json:"isDisabled"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// Administrator is an administrator account.
type Administrator struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone,omitempty"`
	IsSystemAdmin bool         `json:"isSystemAdmin"`
	IsApproved    ReviewStatus `json:"isApproved"`
	ApprovedBy    string       `json:"approvedBy,omitempty"`
	IsDisabled    bool         `json:"isDisabled"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Active reports whether the administrator may act on other accounts.
func (a *Administrator) Active() bool {
	return a.IsApproved == ReviewApproved && !a.IsDisabled
}

// StatusLog is one append-only entry in an account's history.
type StatusLog struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"accountId"`
	AccountKind RecipientKind `json:"accountKind"`
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	ActorID     string        `json:"actorId,omitempty"`
	ActorKind   RecipientKind `json:"actorKind,omitempty"`
	Sequence    int64         `json:"sequence"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Actor is the authenticated identity performing an action.
type Actor struct {
	ID   string        `json:"id"`
	Kind RecipientKind `json:"kind"`
}

// Recipient is the contact view of an account used by the notification pipeline.
type Recipient struct {
	ID    string        `json:"id"`
	Kind  RecipientKind `json:"kind"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
	Phone string        `json:"phone,omitempty"`
}
