// Package approval implements the two-stage account review gate and the enable/disable toggles.
package approval

import (
	"context"
	"fmt"
	"strings"

	"approval-notify/internal/common/database"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/common/validation"
	"approval-notify/internal/models"

	"github.com/google/uuid"
)

// Notifier receives notification fan-out. Implementations must not block.
type Notifier interface {
	Dispatch(events ...models.Event)
}

// Options tunes the open transition rules.
type Options struct {
	HeadDesignations   []string
	DHSingleTransition bool
	RejectionFinalizes bool
}

// DefaultHeadDesignations is used when no head designations are configured.
var DefaultHeadDesignations = []string{"Department Head"}

// SubjectInput is a new subject registration.
type SubjectInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	Department  string `json:"department"`
	Designation string `json:"designation"`
}

// AdminInput is a new administrator registration.
type AdminInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Machine enforces the legal transitions over the Account Store.
type Machine struct {
	store    *Store
	notifier Notifier
	opts     Options
	logger   logger.Logger
}

func NewMachine(store *Store, notifier Notifier, opts Options, log logger.Logger) *Machine {
	if len(opts.HeadDesignations) == 0 {
		opts.HeadDesignations = DefaultHeadDesignations
	}
	return &Machine{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   log.WithFields(map[string]interface{}{"component": "approval"}),
	}
}

func (m *Machine) isHead(designation string) bool {
	for _, d := range m.opts.HeadDesignations {
		if strings.EqualFold(strings.TrimSpace(designation), d) {
			return true
		}
	}
	return false
}

func (m *Machine) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.CodeOf(err))
	}
	metrics.ApprovalTransitions.WithLabelValues(op, outcome).Inc()
}

func (m *Machine) dispatch(events ...models.Event) {
	if len(events) == 0 || m.notifier == nil {
		return
	}
	m.notifier.Dispatch(events...)
}

func logEntry(kind models.RecipientKind, id, status, message string, actor models.Actor) models.StatusLog {
	return models.StatusLog{
		AccountID:   id,
		AccountKind: kind,
		Status:      status,
		Message:     message,
		ActorID:     actor.ID,
		ActorKind:   actor.Kind,
	}
}

func subjectData(s *models.Subject) map[string]interface{} {
	return map[string]interface{}{
		"name":       s.Name,
		"email":      s.Email,
		"department": s.Department,
		"subjectId":  s.ID,
	}
}

func with(data map[string]interface{}, kv ...interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+len(kv)/2)
	for k, v := range data {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

// systemAdminEvent addresses the designated administrator, when one exists.
func (m *Machine) systemAdminEvent(ctx context.Context, event models.EventType, data map[string]interface{}) []models.Event {
	admin, err := m.store.GetSystemAdmin(ctx)
	if err != nil {
		m.logger.Warn("No system administrator to notify", map[string]interface{}{
			"event": string(event),
			"error": err.Error(),
		})
		return nil
	}
	return []models.Event{{
		Type:          event,
		RecipientID:   admin.ID,
		RecipientKind: models.KindAdministrator,
		Data:          data,
		SendEmail:     true,
	}}
}

func (m *Machine) headEvents(ctx context.Context, s *models.Subject) []models.Event {
	heads, err := m.store.ListDepartmentHeads(ctx, s.Department, m.opts.HeadDesignations)
	if err != nil {
		m.logger.Error("Failed to list department heads", map[string]interface{}{
			"subject_id": s.ID,
			"department": s.Department,
			"error":      err.Error(),
		})
		return nil
	}
	events := make([]models.Event, 0, len(heads))
	for _, head := range heads {
		if head.ID == s.ID {
			continue
		}
		events = append(events, models.Event{
			Type:          models.EventDHReviewRequest,
			RecipientID:   head.ID,
			RecipientKind: models.KindSubject,
			Data:          subjectData(s),
			SendEmail:     true,
		})
	}
	if len(events) == 0 {
		m.logger.Warn("No department head to review subject", map[string]interface{}{
			"subject_id": s.ID,
			"department": s.Department,
		})
	}
	return events
}

// RegisterSubject creates a subject account. Head designations skip the department-head stage.
func (m *Machine) RegisterSubject(ctx context.Context, in SubjectInput) (*models.Subject, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("name is required")
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, apperrors.NewInvalidEmailAddressError(in.Email, err)
	}
	if in.Phone != "" && !validation.ValidatePhone(in.Phone) {
		return nil, apperrors.NewValidationError("phone is not a valid number")
	}

	subject := &models.Subject{
		ID:                  uuid.NewString(),
		Name:                strings.TrimSpace(in.Name),
		Email:               strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:               in.Phone,
		Role:                in.Role,
		Department:          in.Department,
		Designation:         in.Designation,
		DHApprovalStatus:    models.DHPending,
		AdminApprovalStatus: models.ReviewPending,
		IsApproved:          models.ReviewPending,
	}
	if m.isHead(in.Designation) {
		subject.DHApprovalStatus = models.DHNotRequired
	}

	self := models.Actor{ID: subject.ID, Kind: models.KindSubject}
	err := m.store.CreateSubject(ctx, subject, logEntry(models.KindSubject, subject.ID, models.StatusRegistered, "account registered", self))
	if database.IsUniqueViolation(err) {
		err = apperrors.NewValidationError("email already registered")
	}
	m.record("register_subject", err)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Subject registered", map[string]interface{}{
		"subject_id":         subject.ID,
		"department":         subject.Department,
		"dh_approval_status": string(subject.DHApprovalStatus),
	})

	events := []models.Event{{
		Type:          models.EventRegistration,
		RecipientID:   subject.ID,
		RecipientKind: models.KindSubject,
		Data:          subjectData(subject),
		SendEmail:     true,
	}}
	if subject.DHApprovalStatus == models.DHPending {
		events = append(events, m.headEvents(ctx, subject)...)
	} else {
		events = append(events, m.systemAdminEvent(ctx, models.EventRegistration, subjectData(subject))...)
	}
	m.dispatch(events...)
	return subject, nil
}

// RequestDHReview puts the department-head stage back to pending and asks the heads again.
func (m *Machine) RequestDHReview(ctx context.Context, accountID string) (err error) {
	defer func() { m.record("request_dh_review", err) }()

	subject, err := m.store.GetSubject(ctx, accountID)
	if err != nil {
		return err
	}
	if subject.DHApprovalStatus == models.DHNotRequired {
		return apperrors.NewInvalidStateError("department head review is not required for this account")
	}
	if subject.AdminApprovalStatus != models.ReviewPending {
		return apperrors.NewAlreadyFinalizedError("admin review already finalized")
	}

	changed, err := m.store.UpdateSubjectDH(ctx, accountID, models.DHPending,
		[]models.DHApprovalStatus{models.DHPending, models.DHApproved, models.DHRejected},
		logEntry(models.KindSubject, accountID, models.StatusDHReviewRequested, "department head review requested",
			models.Actor{ID: accountID, Kind: models.KindSubject}))
	if err != nil {
		return err
	}
	if !changed {
		return apperrors.NewAlreadyFinalizedError("admin review already finalized")
	}

	m.dispatch(m.headEvents(ctx, subject)...)
	return nil
}

// ResolveDHReview records a department head's decision on a subject in the same department.
func (m *Machine) ResolveDHReview(ctx context.Context, accountID string, actor models.Actor, decision models.Decision, remark string) (err error) {
	defer func() { m.record("resolve_dh_review", err) }()

	if !decision.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision))
	}
	subject, err := m.store.GetSubject(ctx, accountID)
	if err != nil {
		return err
	}
	head, err := m.overseer(ctx, actor, subject)
	if err != nil {
		return err
	}
	if subject.DHApprovalStatus == models.DHNotRequired {
		return apperrors.NewInvalidStateError("department head review is not required for this account")
	}

	from := []models.DHApprovalStatus{models.DHPending, models.DHApproved, models.DHRejected}
	if m.opts.DHSingleTransition {
		from = []models.DHApprovalStatus{models.DHPending}
	}
	to, status := models.DHApproved, models.StatusDHApproved
	if decision == models.DecisionReject {
		to, status = models.DHRejected, models.StatusDHRejected
	}

	changed, err := m.store.UpdateSubjectDH(ctx, accountID, to, from,
		logEntry(models.KindSubject, accountID, status, remark, actor))
	if err != nil {
		return err
	}
	if !changed {
		return apperrors.NewAlreadyFinalizedError("department head review already decided")
	}

	m.logger.Info("Department head review resolved", map[string]interface{}{
		"subject_id": accountID,
		"actor_id":   actor.ID,
		"decision":   string(decision),
	})

	data := with(subjectData(subject), "actorName", head.Name, "remark", remark)
	if decision == models.DecisionApprove {
		events := []models.Event{{
			Type:          models.EventDHApproval,
			RecipientID:   subject.ID,
			RecipientKind: models.KindSubject,
			Data:          data,
			SendEmail:     true,
		}}
		events = append(events, m.systemAdminEvent(ctx, models.EventDHApproval, data)...)
		m.dispatch(events...)
		return nil
	}
	m.dispatch(models.Event{
		Type:          models.EventRejection,
		RecipientID:   subject.ID,
		RecipientKind: models.KindSubject,
		Data:          with(data, "stage", "department head"),
		SendEmail:     true,
	})
	return nil
}

// overseer returns the acting subject when it heads the target's department.
func (m *Machine) overseer(ctx context.Context, actor models.Actor, target *models.Subject) (*models.Subject, error) {
	if actor.Kind != models.KindSubject || actor.ID == target.ID {
		return nil, apperrors.NewForbiddenError("only a department head of the same department may review")
	}
	head, err := m.store.GetSubject(ctx, actor.ID)
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return nil, apperrors.NewForbiddenError("unknown reviewer")
	}
	if err != nil {
		return nil, err
	}
	if !m.isHead(head.Designation) || head.Department != target.Department ||
		head.IsDisabled || head.IsApproved != models.ReviewApproved {
		return nil, apperrors.NewForbiddenError("only a department head of the same department may review")
	}
	return head, nil
}

// ActiveAdmin returns the acting administrator when it is approved and enabled.
func (m *Machine) ActiveAdmin(ctx context.Context, actor models.Actor) (*models.Administrator, error) {
	if actor.Kind != models.KindAdministrator {
		return nil, apperrors.NewForbiddenError("administrator privileges required")
	}
	admin, err := m.store.GetAdministrator(ctx, actor.ID)
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return nil, apperrors.NewForbiddenError("unknown administrator")
	}
	if err != nil {
		return nil, err
	}
	if !admin.Active() {
		return nil, apperrors.NewForbiddenError("administrator is not active")
	}
	return admin, nil
}

// ResolveAdminReview finalizes the admin stage of a subject exactly once.
func (m *Machine) ResolveAdminReview(ctx context.Context, accountID string, actor models.Actor, decision models.Decision, remark string) (err error) {
	defer func() { m.record("resolve_admin_review", err) }()

	if !decision.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision))
	}
	admin, err := m.ActiveAdmin(ctx, actor)
	if err != nil {
		return err
	}

	status := models.StatusAdminApproved
	if decision == models.DecisionReject {
		status = models.StatusAdminRejected
	}
	changed, err := m.store.FinalizeAdminReview(ctx, accountID, decision, actor.ID, m.opts.RejectionFinalizes,
		logEntry(models.KindSubject, accountID, status, remark, actor))
	if err != nil {
		return err
	}

	subject, err := m.store.GetSubject(ctx, accountID)
	if err != nil {
		return err
	}
	if !changed {
		if subject.AdminApprovalStatus != models.ReviewPending {
			return apperrors.NewAlreadyFinalizedError(fmt.Sprintf("admin review already %s", subject.AdminApprovalStatus))
		}
		return apperrors.NewInvalidStateError(fmt.Sprintf("department head review is %s", subject.DHApprovalStatus))
	}

	m.logger.Info("Admin review resolved", map[string]interface{}{
		"subject_id": accountID,
		"actor_id":   actor.ID,
		"decision":   string(decision),
	})

	data := with(subjectData(subject), "actorName", admin.Name, "remark", remark)
	event := models.Event{
		Type:          models.EventAdminApproval,
		RecipientID:   subject.ID,
		RecipientKind: models.KindSubject,
		Data:          data,
		SendEmail:     true,
	}
	if decision == models.DecisionReject {
		event.Type = models.EventRejection
		event.Data = with(data, "stage", "admin")
	}
	m.dispatch(event)
	return nil
}

// ToggleSubjectDisabled flips a subject's disabled flag. Administrators and overseeing heads may act.
func (m *Machine) ToggleSubjectDisabled(ctx context.Context, accountID string, actor models.Actor) (disabled bool, err error) {
	defer func() { m.record("toggle_subject_disabled", err) }()

	subject, err := m.store.GetSubject(ctx, accountID)
	if err != nil {
		return false, err
	}

	var actorName string
	if actor.Kind == models.KindAdministrator {
		admin, err := m.ActiveAdmin(ctx, actor)
		if err != nil {
			return false, err
		}
		actorName = admin.Name
	} else {
		head, err := m.overseer(ctx, actor, subject)
		if err != nil {
			return false, err
		}
		actorName = head.Name
	}

	disabled, err = m.store.ToggleSubjectDisabled(ctx, accountID, func(disabled bool) models.StatusLog {
		status, message := models.StatusEnabled, "account enabled"
		if disabled {
			status, message = models.StatusDisabled, "account disabled"
		}
		return logEntry(models.KindSubject, accountID, status, message, actor)
	})
	if err != nil {
		return false, err
	}

	event := models.EventUserEnabled
	if disabled {
		event = models.EventUserDisabled
	}
	m.dispatch(models.Event{
		Type:          event,
		RecipientID:   accountID,
		RecipientKind: models.KindSubject,
		Data:          with(subjectData(subject), "actorName", actorName),
		SendEmail:     true,
	})
	return disabled, nil
}

// RegisterAdmin creates an administrator. The first administrator bootstraps as the approved system admin.
func (m *Machine) RegisterAdmin(ctx context.Context, in AdminInput) (*models.Administrator, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("name is required")
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, apperrors.NewInvalidEmailAddressError(in.Email, err)
	}
	if in.Phone != "" && !validation.ValidatePhone(in.Phone) {
		return nil, apperrors.NewValidationError("phone is not a valid number")
	}

	count, err := m.store.CountAdministrators(ctx)
	if err != nil {
		return nil, err
	}

	admin := &models.Administrator{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:      in.Phone,
		IsApproved: models.ReviewPending,
	}
	self := models.Actor{ID: admin.ID, Kind: models.KindAdministrator}

	if count == 0 {
		admin.IsSystemAdmin = true
		admin.IsApproved = models.ReviewApproved
		admin.ApprovedBy = admin.ID
		err = m.store.CreateAdministrator(ctx, admin,
			logEntry(models.KindAdministrator, admin.ID, models.StatusAccountApproved, "system administrator bootstrapped", self))
		if database.IsUniqueViolation(err) {
			// Lost the bootstrap race; register as a regular administrator.
			admin.IsSystemAdmin = false
			admin.IsApproved = models.ReviewPending
			admin.ApprovedBy = ""
			count = 1
		}
	}
	if count > 0 {
		err = m.store.CreateAdministrator(ctx, admin,
			logEntry(models.KindAdministrator, admin.ID, models.StatusRegistered, "administrator registered", self))
	}
	if database.IsUniqueViolation(err) {
		err = apperrors.NewValidationError("email already registered")
	}
	m.record("register_admin", err)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Administrator registered", map[string]interface{}{
		"admin_id":        admin.ID,
		"is_system_admin": admin.IsSystemAdmin,
	})

	if !admin.IsSystemAdmin {
		m.dispatch(m.systemAdminEvent(ctx, models.EventAdminRegistration, map[string]interface{}{
			"name":    admin.Name,
			"email":   admin.Email,
			"adminId": admin.ID,
		})...)
	}
	return admin, nil
}

// ResolveAdminAccountReview lets the system administrator decide on a pending administrator once.
func (m *Machine) ResolveAdminAccountReview(ctx context.Context, adminID string, actor models.Actor, decision models.Decision, remark string) (err error) {
	defer func() { m.record("resolve_admin_account_review", err) }()

	if !decision.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision))
	}
	reviewer, err := m.ActiveAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !reviewer.IsSystemAdmin {
		return apperrors.NewForbiddenError("only the system administrator may review administrators")
	}

	status := models.StatusAccountApproved
	if decision == models.DecisionReject {
		status = models.StatusAccountRejected
	}
	changed, err := m.store.FinalizeAdministratorReview(ctx, adminID, decision, actor.ID,
		logEntry(models.KindAdministrator, adminID, status, remark, actor))
	if err != nil {
		return err
	}

	target, err := m.store.GetAdministrator(ctx, adminID)
	if err != nil {
		return err
	}
	if !changed {
		if target.IsSystemAdmin {
			return apperrors.NewInvalidStateError("the system administrator is not reviewable")
		}
		return apperrors.NewAlreadyFinalizedError(fmt.Sprintf("administrator review already %s", target.IsApproved))
	}

	event := models.EventAdminAccountApproval
	if decision == models.DecisionReject {
		event = models.EventAdminAccountRejection
	}
	m.dispatch(models.Event{
		Type:          event,
		RecipientID:   adminID,
		RecipientKind: models.KindAdministrator,
		Data: map[string]interface{}{
			"name":      target.Name,
			"adminId":   target.ID,
			"actorName": reviewer.Name,
			"remark":    remark,
		},
		SendEmail: true,
	})
	return nil
}

// ToggleAdminDisabled flips an administrator's disabled flag. The system administrator cannot be disabled.
func (m *Machine) ToggleAdminDisabled(ctx context.Context, adminID string, actor models.Actor) (disabled bool, err error) {
	defer func() { m.record("toggle_admin_disabled", err) }()

	reviewer, err := m.ActiveAdmin(ctx, actor)
	if err != nil {
		return false, err
	}
	if reviewer.ID == adminID {
		return false, apperrors.NewForbiddenError("administrators cannot toggle their own account")
	}
	target, err := m.store.GetAdministrator(ctx, adminID)
	if err != nil {
		return false, err
	}
	if target.IsSystemAdmin {
		return false, apperrors.NewForbiddenError("the system administrator cannot be disabled")
	}

	disabled, found, err := m.store.ToggleAdministratorDisabled(ctx, adminID, func(disabled bool) models.StatusLog {
		status, message := models.StatusEnabled, "account enabled"
		if disabled {
			status, message = models.StatusDisabled, "account disabled"
		}
		return logEntry(models.KindAdministrator, adminID, status, message, actor)
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, apperrors.NewNotFoundError("administrator", adminID)
	}

	event := models.EventAdminEnabled
	if disabled {
		event = models.EventAdminDisabled
	}
	m.dispatch(models.Event{
		Type:          event,
		RecipientID:   adminID,
		RecipientKind: models.KindAdministrator,
		Data: map[string]interface{}{
			"name":      target.Name,
			"adminId":   target.ID,
			"actorName": reviewer.Name,
		},
		SendEmail: true,
	})
	return disabled, nil
}

func (m *Machine) Subject(ctx context.Context, id string) (*models.Subject, error) {
	return m.store.GetSubject(ctx, id)
}

func (m *Machine) Administrator(ctx context.Context, id string) (*models.Administrator, error) {
	return m.store.GetAdministrator(ctx, id)
}

// StatusLogs returns an account's history after checking it exists.
func (m *Machine) StatusLogs(ctx context.Context, kind models.RecipientKind, id string) ([]models.StatusLog, error) {
	if _, err := m.store.Recipient(ctx, kind, id); err != nil {
		return nil, err
	}
	return m.store.ListStatusLogs(ctx, kind, id)
}
