// Package notification persists in-app notifications and fans them out to realtime, email and SMS.
package notification

import (
	"context"
	"fmt"
	"regexp"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/models"
	"approval-notify/internal/notification/templates"
	"approval-notify/internal/realtime"
	emailsend "approval-notify/internal/workers/communication/email-send"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Directory resolves a recipient's contact details.
type Directory interface {
	Recipient(ctx context.Context, kind models.RecipientKind, id string) (*models.Recipient, error)
}

// Pusher publishes to a recipient's realtime channel.
type Pusher interface {
	Publish(ctx context.Context, to models.Actor, event string, data interface{}) error
}

// Enqueuer hands a delivery job to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.DeliveryJob) error
}

// EmailChannel renders and sends emails. SendEmail reports failures in its Result.
type EmailChannel interface {
	Render(n *models.Notification, to *models.Recipient, subject string) (*models.EmailPayload, error)
	SendEmail(ctx context.Context, payload *models.EmailPayload) emailsend.Result
}

type Options struct {
	EmailEnabled bool
	SMSEnabled   bool
	SMSThreshold models.Priority
	MaxAttempts  int
}

// Skip reasons reported in Outcome.Skipped.
const (
	SkipRecipientMissing = "recipient_missing"
	SkipNoTemplate       = "no_template"
	SkipPersistFailed    = "persist_failed"
)

// Outcome describes what one Notify call achieved. Only persistence failures leave no record.
type Outcome struct {
	Event          models.Event `json:"event"`
	NotificationID string       `json:"notificationId,omitempty"`
	Skipped        string       `json:"skipped,omitempty"`
	Persisted      bool         `json:"persisted"`
	Pushed         bool         `json:"pushed"`
	Enqueued       bool         `json:"enqueued"`
	Fallback       bool         `json:"fallback"`
	Err            error        `json:"-"`
}

type Service struct {
	store     *Store
	directory Directory
	resolver  *templates.Resolver
	pusher    Pusher
	queue     Enqueuer
	email     EmailChannel
	opts      Options
	logger    logger.Logger
}

type ServiceDependencies struct {
	Store     *Store
	Directory Directory
	Resolver  *templates.Resolver
	Pusher    Pusher
	Queue     Enqueuer
	Email     EmailChannel
	Logger    logger.Logger
}

func NewService(deps ServiceDependencies, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if !opts.SMSThreshold.Valid() {
		opts.SMSThreshold = models.PriorityHigh
	}
	return &Service{
		store:     deps.Store,
		directory: deps.Directory,
		resolver:  deps.Resolver,
		pusher:    deps.Pusher,
		queue:     deps.Queue,
		email:     deps.Email,
		opts:      opts,
		logger:    deps.Logger.WithFields(map[string]interface{}{"component": "notification_service"}),
	}
}

func eventFields(ev models.Event) map[string]interface{} {
	return map[string]interface{}{
		"event":          string(ev.Type),
		"recipient_id":   ev.RecipientID,
		"recipient_kind": string(ev.RecipientKind),
	}
}

func (s *Service) skip(out Outcome, reason string, err error) Outcome {
	out.Skipped = reason
	out.Err = err
	metrics.NotificationsSkipped.WithLabelValues(reason).Inc()
	fields := eventFields(out.Event)
	fields["reason"] = reason
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Warn("Notification skipped", fields)
	return out
}

// Notify persists one notification, then pushes it, then enqueues its delivery. Only the
// persist step can stop the others; push and enqueue failures are logged and swallowed.
func (s *Service) Notify(ctx context.Context, ev models.Event) Outcome {
	out := Outcome{Event: ev}

	recipient, err := s.directory.Recipient(ctx, ev.RecipientKind, ev.RecipientID)
	if err != nil {
		return s.skip(out, SkipRecipientMissing, err)
	}

	rendered, ok := s.resolver.Resolve(ev.Type, ev.RecipientKind, ev.Data)
	if !ok {
		return s.skip(out, SkipNoTemplate, apperrors.NewTemplateNotFoundError(string(ev.Type), string(ev.RecipientKind)))
	}

	n := &models.Notification{
		ID:             uuid.NewString(),
		RecipientID:    recipient.ID,
		RecipientKind:  recipient.Kind,
		Type:           ev.Type,
		Title:          rendered.Title,
		Message:        rendered.Message,
		Data:           ev.Data,
		Priority:       rendered.Priority,
		ActionRequired: rendered.ActionRequired,
		ActionURL:      rendered.ActionURL,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return s.skip(out, SkipPersistFailed, err)
	}
	out.NotificationID = n.ID
	out.Persisted = true
	metrics.NotificationsCreated.WithLabelValues(string(n.Type), string(n.RecipientKind)).Inc()

	out.Pushed = s.pushNew(ctx, n)

	job := &models.DeliveryJob{
		ID:             uuid.NewString(),
		Priority:       n.Priority.QueuePriority(),
		NotificationID: n.ID,
		InApp:          n,
		MaxAttempts:    s.opts.MaxAttempts,
	}
	if ev.SendEmail && s.opts.EmailEnabled && s.email != nil {
		payload, err := s.email.Render(n, recipient, rendered.EmailSubject)
		if err != nil {
			fields := eventFields(ev)
			fields["notification_id"] = n.ID
			fields["error"] = err.Error()
			s.logger.Warn("Email not rendered", fields)
		} else {
			job.Email = payload
		}
	}
	if sms := s.smsFor(n, recipient); sms != nil {
		job.SMS = sms
	}
	job.Kind = models.KindFor(true, job.Email != nil)

	out.Enqueued, out.Fallback = s.enqueue(ctx, job)
	return out
}

func (s *Service) pushNew(ctx context.Context, n *models.Notification) bool {
	to := models.Actor{ID: n.RecipientID, Kind: n.RecipientKind}
	unread, err := s.store.UnreadCount(ctx, to)
	if err == nil {
		err = s.pusher.Publish(ctx, to, realtime.EventNewNotification, realtime.NewNotificationPayload{Notification: n, UnreadCount: unread})
	}
	if err != nil {
		s.logger.Warn("Realtime push failed", map[string]interface{}{
			"notification_id": n.ID,
			"recipient_id":    n.RecipientID,
			"recipient_kind":  string(n.RecipientKind),
			"error":           err.Error(),
		})
		return false
	}
	return true
}

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func (s *Service) smsFor(n *models.Notification, to *models.Recipient) *models.SMSPayload {
	if !s.opts.SMSEnabled || to.Phone == "" || !n.Priority.AtLeast(s.opts.SMSThreshold) {
		return nil
	}
	if !phonePattern.MatchString(to.Phone) {
		s.logger.Debug("Skipping SMS for non-E.164 phone number", map[string]interface{}{"recipient_id": to.ID})
		return nil
	}
	return &models.SMSPayload{PhoneNumber: to.Phone, Message: fmt.Sprintf("%s: %s", n.Title, n.Message)}
}

// enqueue falls back to a direct email send when the queue refuses the job.
func (s *Service) enqueue(ctx context.Context, job *models.DeliveryJob) (enqueued bool, fallback bool) {
	var err error
	if s.queue == nil {
		err = apperrors.NewQueueUnavailableError("enqueue", fmt.Errorf("no delivery queue configured"))
	} else {
		err = s.queue.Enqueue(ctx, job)
	}
	if err == nil {
		return true, false
	}

	fields := map[string]interface{}{
		"job_id":          job.ID,
		"notification_id": job.NotificationID,
		"kind":            string(job.Kind),
		"error":           err.Error(),
	}
	if job.Email == nil || s.email == nil {
		s.logger.Warn("Delivery job not enqueued", fields)
		return false, false
	}

	s.logger.Warn("Delivery job not enqueued, sending email directly", fields)
	res := s.email.SendEmail(ctx, job.Email)
	if res.Success {
		metrics.EnqueueFallbacks.WithLabelValues("sent").Inc()
	} else {
		metrics.EnqueueFallbacks.WithLabelValues("failed").Inc()
		fields["fallback_error"] = res.Message
		s.logger.Error("Fallback email failed", fields)
	}
	return false, true
}

// SendBulk notifies each event independently and returns one Outcome per input.
func (s *Service) SendBulk(ctx context.Context, events []models.Event) []Outcome {
	outcomes := make([]Outcome, len(events))
	for i, ev := range events {
		outcomes[i] = s.notifyIsolated(ctx, ev)
	}
	return outcomes
}

func (s *Service) notifyIsolated(ctx context.Context, ev models.Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.NewInternalError(fmt.Errorf("notify panic: %v", r))
			fields := eventFields(ev)
			fields["error"] = err.Error()
			s.logger.Error("Notify panicked", fields)
			if out.Persisted {
				out.Err = err
				return
			}
			out = Outcome{Event: ev, Skipped: SkipPersistFailed, Err: err}
		}
	}()
	return s.Notify(ctx, ev)
}

// List returns one page of a recipient's live notifications, newest first.
func (s *Service) List(ctx context.Context, owner models.Actor, page, limit int, unreadOnly bool) (*models.Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	items, total, err := s.store.List(ctx, owner, uint64((page-1)*limit), uint64(limit), unreadOnly)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadCount(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &models.Page{Items: items, Page: page, Limit: limit, Total: total, UnreadCount: unread}, nil
}

func (s *Service) UnreadCount(ctx context.Context, owner models.Actor) (int64, error) {
	return s.store.UnreadCount(ctx, owner)
}

// MarkRead marks one notification read and tells the recipient's other sessions.
func (s *Service) MarkRead(ctx context.Context, owner models.Actor, id string) (*models.Notification, int64, error) {
	n, err := s.store.MarkRead(ctx, owner, id)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.store.UnreadCount(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	s.pushRead(ctx, owner, realtime.EventNotificationRead, realtime.ReadPayload{NotificationID: id, UnreadCount: unread})
	return n, unread, nil
}

// MarkAllRead marks every live notification read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, owner models.Actor) (int64, error) {
	changed, err := s.store.MarkAllRead(ctx, owner)
	if err != nil {
		return 0, err
	}
	unread, err := s.store.UnreadCount(ctx, owner)
	if err != nil {
		return changed, err
	}
	s.pushRead(ctx, owner, realtime.EventAllNotificationsRead, realtime.ReadPayload{UnreadCount: unread})
	return changed, nil
}

// SoftDelete hides a notification from listings. Repeating it is not an error.
func (s *Service) SoftDelete(ctx context.Context, owner models.Actor, id string) error {
	return s.store.SoftDelete(ctx, owner, id)
}

func (s *Service) pushRead(ctx context.Context, owner models.Actor, event string, payload realtime.ReadPayload) {
	if err := s.pusher.Publish(ctx, owner, event, payload); err != nil {
		s.logger.Warn("Realtime push failed", map[string]interface{}{
			"event":          event,
			"recipient_id":   owner.ID,
			"recipient_kind": string(owner.Kind),
			"error":          err.Error(),
		})
	}
}
