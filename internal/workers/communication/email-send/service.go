// Package emailsend renders notification emails and hands them to the configured provider.
package emailsend

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/models"

	"github.com/mcnijman/go-emailaddress"
)

type Service struct {
	config   *Config
	logger   logger.Logger
	sender   Sender
	renderer *Renderer
}

func NewService(deps ServiceDependencies, cfg *Config) *Service {
	sender := deps.Sender
	if sender == nil {
		sender = NewLogSender(deps.Logger)
	}
	return &Service{
		config:   cfg,
		logger:   deps.Logger.WithFields(map[string]interface{}{"component": "email_channel"}),
		sender:   sender,
		renderer: NewRenderer(cfg.BaseURL),
	}
}

// Render builds the outbound email for a notification.
func (s *Service) Render(n *models.Notification, to *models.Recipient, subject string) (*models.EmailPayload, error) {
	return s.renderer.Render(n, to, subject)
}

// Provider names the active sender.
func (s *Service) Provider() string { return s.sender.Name() }

func (s *Service) from() mail.Address {
	return mail.Address{Name: s.config.FromName, Address: s.config.DefaultFrom}
}

func (s *Service) failure(payload *models.EmailPayload, err *apperrors.StandardError) Result {
	metrics.EmailsSent.WithLabelValues(s.sender.Name(), "failed").Inc()
	s.logger.Warn("Email not sent", map[string]interface{}{
		"to":        payload.To,
		"subject":   payload.Subject,
		"errorCode": string(err.Code),
		"retryable": err.Retryable,
		"error":     err.Error(),
	})
	return Result{
		Success:   false,
		Message:   err.Error(),
		Provider:  s.sender.Name(),
		ErrorCode: string(err.Code),
		Retryable: err.Retryable,
	}
}

// SendEmail delivers one email. Failures, including provider panics, come back in the Result.
func (s *Service) SendEmail(ctx context.Context, payload *models.EmailPayload) (result Result) {
	if payload == nil {
		return Result{Message: "missing email payload", ErrorCode: string(apperrors.ErrCodeValidationFailed), Provider: s.sender.Name()}
	}

	defer func() {
		if r := recover(); r != nil {
			result = s.failure(payload, apperrors.NewDeliveryFailureError(s.sender.Name(), fmt.Errorf("panic: %v", r)))
		}
	}()

	if _, err := emailaddress.Parse(payload.To); err != nil {
		return s.failure(payload, apperrors.NewInvalidEmailAddressError(payload.To, err))
	}
	if _, err := emailaddress.Parse(s.config.DefaultFrom); err != nil {
		return s.failure(payload, apperrors.NewInvalidEmailAddressError(s.config.DefaultFrom, err))
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	messageID, err := s.sender.Send(ctx, s.from(), payload)
	if err != nil {
		return s.failure(payload, apperrors.NewDeliveryFailureError(s.sender.Name(), err))
	}

	metrics.EmailsSent.WithLabelValues(s.sender.Name(), "sent").Inc()
	s.logger.Info("Email sent successfully", map[string]interface{}{
		"to":        payload.To,
		"messageId": messageID,
		"provider":  s.sender.Name(),
	})

	return Result{
		Success:   true,
		Message:   "Email sent successfully",
		MessageID: messageID,
		Provider:  s.sender.Name(),
		SentAt:    time.Now().UTC(),
	}
}

// SendBulk sends each payload independently; one failure never affects the others.
func (s *Service) SendBulk(ctx context.Context, payloads []*models.EmailPayload) []Result {
	results := make([]Result, len(payloads))
	for i, p := range payloads {
		results[i] = s.SendEmail(ctx, p)
	}
	return results
}

func (s *Service) Close() error {
	return s.sender.Close()
}
