package emailsend

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"approval-notify/internal/common/aws"
	"approval-notify/internal/common/config"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/models"

	"gopkg.in/gomail.v2"
)

// Sender hands a rendered email to a provider and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, from mail.Address, payload *models.EmailPayload) (string, error)
	Name() string
	Close() error
}

// NewSender builds the sender for cfg.Provider.
func NewSender(ctx context.Context, cfg *Config, log logger.Logger) (Sender, error) {
	switch cfg.Provider {
	case config.EmailProviderSMTP:
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		d.SSL = cfg.UseTLS && cfg.SMTPPort == 465
		return NewSMTPSender(d, cfg.SMTPHost, cfg.PoolSize, cfg.IdleTimeout, log), nil
	case config.EmailProviderSES:
		client, err := aws.NewSESClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSESSender(client), nil
	case config.EmailProviderNone:
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// Dialer opens an SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

type pooledConn struct {
	sc       gomail.SendCloser
	lastUsed time.Time
}

// SMTPSender keeps up to size SMTP sessions open and reuses them across sends.
// Sessions idle longer than idle are closed and re-dialed on next use.
type SMTPSender struct {
	dialer Dialer
	host   string
	idle   time.Duration
	slots  chan *pooledConn
	size   int
	now    func() time.Time
	logger logger.Logger

	closeOnce sync.Once
}

func NewSMTPSender(dialer Dialer, host string, size int, idle time.Duration, log logger.Logger) *SMTPSender {
	if size <= 0 {
		size = 1
	}
	s := &SMTPSender{
		dialer: dialer,
		host:   host,
		idle:   idle,
		slots:  make(chan *pooledConn, size),
		size:   size,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "smtp_pool"}),
	}
	for i := 0; i < size; i++ {
		s.slots <- nil
	}
	return s
}

func (s *SMTPSender) Name() string { return config.EmailProviderSMTP }

func (s *SMTPSender) acquire(ctx context.Context) (*pooledConn, error) {
	select {
	case conn := <-s.slots:
		return conn, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for smtp connection: %w", ctx.Err())
	}
}

func (s *SMTPSender) dial() (*pooledConn, error) {
	sc, err := s.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", s.host, err)
	}
	return &pooledConn{sc: sc, lastUsed: s.now()}, nil
}

func (s *SMTPSender) discard(conn *pooledConn) {
	if conn == nil {
		return
	}
	if err := conn.sc.Close(); err != nil {
		s.logger.Debug("Closing smtp connection failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *SMTPSender) Send(ctx context.Context, from mail.Address, payload *models.EmailPayload) (string, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	released := false
	release := func(c *pooledConn) {
		if !released {
			released = true
			s.slots <- c
		}
	}
	defer release(nil)

	if err := ctx.Err(); err != nil {
		release(conn)
		return "", fmt.Errorf("context cancelled before sending email: %w", err)
	}

	if conn != nil && s.idle > 0 && s.now().Sub(conn.lastUsed) > s.idle {
		s.discard(conn)
		conn = nil
	}

	reused := conn != nil
	if conn == nil {
		if conn, err = s.dial(); err != nil {
			return "", err
		}
	}

	messageID := generateMessageID(payload.To, s.host)
	msg := buildMessage(from, payload, messageID)

	err = gomail.Send(conn.sc, msg)
	if err != nil && reused {
		// The server may have dropped a pooled session; one fresh attempt.
		s.discard(conn)
		if conn, err = s.dial(); err != nil {
			return "", err
		}
		err = gomail.Send(conn.sc, msg)
	}
	if err != nil {
		s.discard(conn)
		return "", fmt.Errorf("smtp send: %w", err)
	}

	conn.lastUsed = s.now()
	release(conn)
	return messageID, nil
}

// Close waits for in-flight sends and closes every pooled session.
func (s *SMTPSender) Close() error {
	s.closeOnce.Do(func() {
		for i := 0; i < s.size; i++ {
			s.discard(<-s.slots)
		}
	})
	return nil
}

func buildMessage(from mail.Address, payload *models.EmailPayload, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", from.Address, from.Name)
	m.SetAddressHeader("To", payload.To, payload.ToName)
	m.SetHeader("Subject", payload.Subject)
	m.SetHeader("Message-ID", messageID)

	switch payload.Priority {
	case models.PriorityHigh:
		m.SetHeader("X-Priority", "1")
		m.SetHeader("Importance", "high")
	case models.PriorityLow:
		m.SetHeader("X-Priority", "5")
		m.SetHeader("Importance", "low")
	default:
		m.SetHeader("X-Priority", "3")
	}

	if payload.TextBody != "" {
		m.SetBody("text/plain", payload.TextBody)
		m.AddAlternative("text/html", payload.HTMLBody)
	} else {
		m.SetBody("text/html", payload.HTMLBody)
	}
	return m
}

func generateMessageID(to, host string) string {
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), sanitizeEmail(to), host)
}

func sanitizeEmail(email string) string {
	local := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.Split(email, "@")[0])

	if len(local) > 10 {
		local = local[:10]
	}
	if local == "" {
		return "user"
	}
	return local
}

// SESEmailClient is the subset of aws.SESClient the SES sender needs.
type SESEmailClient interface {
	SendEmail(ctx context.Context, from string, payload *models.EmailPayload) (string, error)
}

type SESSender struct {
	client SESEmailClient
}

func NewSESSender(client SESEmailClient) *SESSender {
	return &SESSender{client: client}
}

func (s *SESSender) Name() string { return config.EmailProviderSES }

func (s *SESSender) Send(ctx context.Context, from mail.Address, payload *models.EmailPayload) (string, error) {
	return s.client.SendEmail(ctx, from.String(), payload)
}

func (s *SESSender) Close() error { return nil }

// LogSender records emails in the log instead of sending them.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log.WithFields(map[string]interface{}{"component": "email_log_sender"})}
}

func (s *LogSender) Name() string { return config.EmailProviderNone }

func (s *LogSender) Send(_ context.Context, from mail.Address, payload *models.EmailPayload) (string, error) {
	id := generateMessageID(payload.To, "localhost")
	s.logger.Info("Email delivery disabled, logging message", map[string]interface{}{
		"from":      from.Address,
		"to":        payload.To,
		"subject":   payload.Subject,
		"messageId": id,
	})
	return id, nil
}

func (s *LogSender) Close() error { return nil }
