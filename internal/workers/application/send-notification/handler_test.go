package sendnotification

import (
	"context"
	"errors"
	"testing"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/models"
	emailsend "approval-notify/internal/workers/communication/email-send"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmail struct {
	SendEmailFunc func(ctx context.Context, payload *models.EmailPayload) emailsend.Result
	calls         int
}

func (m *mockEmail) SendEmail(ctx context.Context, payload *models.EmailPayload) emailsend.Result {
	m.calls++
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, payload)
	}
	return emailsend.Result{Success: true, MessageID: "<mail@test>"}
}

type mockSMS struct {
	SendSMSFunc func(ctx context.Context, phone, message string) (string, error)
	calls       int
}

func (m *mockSMS) SendSMS(ctx context.Context, phone, message string) (string, error) {
	m.calls++
	if m.SendSMSFunc != nil {
		return m.SendSMSFunc(ctx, phone, message)
	}
	return "sms-1", nil
}

func newJob(kind models.JobKind) *models.DeliveryJob {
	job := &models.DeliveryJob{
		ID:             "job-1",
		Kind:           kind,
		NotificationID: "n-1",
		InApp:          &models.Notification{ID: "n-1", Title: "Account approved"},
		MaxAttempts:    3,
	}
	if kind != models.JobInApp {
		job.Email = &models.EmailPayload{To: "sam@example.com", Subject: "Account approved", HTMLBody: "<p>ok</p>"}
	}
	return job
}

func newHandler(t *testing.T, email *mockEmail, sms *mockSMS) *Handler {
	return NewHandler(&Config{EmailEnabled: true, SMSEnabled: true}, email, sms, logger.NewTestLogger(t))
}

func TestHandle_InAppOnlyDoesNothing(t *testing.T) {
	email := &mockEmail{}
	require.NoError(t, newHandler(t, email, &mockSMS{}).Handle(context.Background(), newJob(models.JobInApp)))
	assert.Equal(t, 0, email.calls)
}

func TestHandle_SendsEmailLeg(t *testing.T) {
	email := &mockEmail{}
	job := newJob(models.JobBoth)

	require.NoError(t, newHandler(t, email, &mockSMS{}).Handle(context.Background(), job))
	assert.Equal(t, 1, email.calls)
	assert.True(t, job.EmailDelivered)
}

func TestHandle_EmailFailureIsRetryable(t *testing.T) {
	email := &mockEmail{SendEmailFunc: func(context.Context, *models.EmailPayload) emailsend.Result {
		return emailsend.Result{Message: "smtp timeout", Retryable: true, ErrorCode: string(apperrors.ErrCodeDeliveryFailure)}
	}}
	job := newJob(models.JobEmail)

	err := newHandler(t, email, &mockSMS{}).Handle(context.Background(), job)
	require.Error(t, err)
	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDeliveryFailure, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.False(t, job.EmailDelivered)
}

func TestHandle_InvalidAddressIsTerminal(t *testing.T) {
	email := &mockEmail{SendEmailFunc: func(context.Context, *models.EmailPayload) emailsend.Result {
		return emailsend.Result{Message: "bad address", ErrorCode: string(apperrors.ErrCodeInvalidEmailAddress)}
	}}

	err := newHandler(t, email, &mockSMS{}).Handle(context.Background(), newJob(models.JobEmail))
	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidEmailAddress, stdErr.Code)
	assert.False(t, stdErr.Retryable)
}

func TestHandle_RetrySkipsDeliveredLegs(t *testing.T) {
	email := &mockEmail{}
	smsFails := true
	sms := &mockSMS{SendSMSFunc: func(context.Context, string, string) (string, error) {
		if smsFails {
			return "", errors.New("throttled")
		}
		return "sms-2", nil
	}}
	h := newHandler(t, email, sms)
	job := newJob(models.JobBoth)
	job.SMS = &models.SMSPayload{PhoneNumber: "+14155550100", Message: "Account approved"}

	err := h.Handle(context.Background(), job)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDeliveryFailure))
	assert.True(t, job.EmailDelivered)
	assert.False(t, job.SMSDelivered)

	smsFails = false
	require.NoError(t, h.Handle(context.Background(), job))
	assert.Equal(t, 1, email.calls, "email is not resent on retry")
	assert.Equal(t, 2, sms.calls)
	assert.True(t, job.SMSDelivered)
}

func TestHandle_DisabledChannels(t *testing.T) {
	email := &mockEmail{}
	sms := &mockSMS{}
	h := NewHandler(&Config{}, email, sms, logger.NewNoOpLogger())
	job := newJob(models.JobBoth)
	job.SMS = &models.SMSPayload{PhoneNumber: "+14155550100", Message: "hi"}

	require.NoError(t, h.Handle(context.Background(), job))
	assert.Equal(t, 0, email.calls)
	assert.Equal(t, 0, sms.calls)

	out, err := h.execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, out.Status)
}
