// internal/workers/application/send-notification/handler.go
package sendnotification

import (
	"context"
	"errors"
	"time"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/models"
	emailsend "approval-notify/internal/workers/communication/email-send"
)

const (
	TaskType = "send-notification"
)

// Define interfaces for mocking
type EmailService interface {
	SendEmail(ctx context.Context, payload *models.EmailPayload) emailsend.Result
}

type SMSService interface {
	SendSMS(ctx context.Context, phoneNumber, message string) (string, error)
}

// Handler executes delivery jobs taken from the queue. A returned error fails the attempt;
// legs that already went out are flagged on the job and skipped when it is retried.
type Handler struct {
	config *Config
	email  EmailService
	sms    SMSService
	logger logger.Logger
}

func NewHandler(config *Config, email EmailService, sms SMSService, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		email:  email,
		sms:    sms,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(ctx context.Context, job *models.DeliveryJob) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobId":          job.ID,
		"notificationId": job.NotificationID,
		"kind":           string(job.Kind),
		"attempt":        job.Attempts + 1,
	})

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	output, err := h.execute(ctx, job)
	if err != nil {
		return err
	}

	h.logger.Info("job completed", map[string]interface{}{
		"jobId":          job.ID,
		"notificationId": output.NotificationID,
		"status":         output.Status,
		"emailMessageId": output.EmailMessageID,
		"smsMessageId":   output.SMSMessageID,
	})
	return nil
}

func (h *Handler) execute(ctx context.Context, job *models.DeliveryJob) (*Output, error) {
	output := &Output{NotificationID: job.NotificationID, Status: StatusInApp, SentAt: time.Now().UTC()}

	// The in-app record was written before the job was enqueued; its copy here is replay data only.
	if job.InApp != nil {
		h.logger.Debug("in-app leg already persisted", map[string]interface{}{
			"jobId":          job.ID,
			"notificationId": job.InApp.ID,
		})
	}

	if job.HasEmailLeg() && !job.EmailDelivered {
		if !h.config.EmailEnabled || h.email == nil {
			output.Status = StatusDisabled
		} else {
			res := h.email.SendEmail(ctx, job.Email)
			if !res.Success {
				return nil, emailError(job.Email.To, res)
			}
			job.EmailDelivered = true
			output.EmailMessageID = res.MessageID
			output.Status = StatusSent
		}
	}

	if job.SMS != nil && !job.SMSDelivered && h.config.SMSEnabled && h.sms != nil {
		id, err := h.sms.SendSMS(ctx, job.SMS.PhoneNumber, job.SMS.Message)
		if err != nil {
			h.logger.Error("SMS send failed", map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			})
			return nil, apperrors.NewDeliveryFailureError("sms", err)
		}
		job.SMSDelivered = true
		output.SMSMessageID = id
		output.Status = StatusSent
	}

	return output, nil
}

func emailError(to string, res emailsend.Result) error {
	cause := errors.New(res.Message)
	if res.Retryable {
		return apperrors.NewDeliveryFailureError("email", cause)
	}
	if res.ErrorCode == string(apperrors.ErrCodeInvalidEmailAddress) {
		return apperrors.NewInvalidEmailAddressError(to, cause)
	}
	return apperrors.NewValidationError(res.Message)
}
