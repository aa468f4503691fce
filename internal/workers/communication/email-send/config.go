package emailsend

import (
	"fmt"
	"time"

	"approval-notify/internal/common/config"
)

type Config struct {
	Provider     string        `mapstructure:"provider"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SMTPHost     string        `mapstructure:"smtp_host"`
	SMTPPort     int           `mapstructure:"smtp_port"`
	SMTPUsername string        `mapstructure:"smtp_username"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	UseTLS       bool          `mapstructure:"use_tls"`
	DefaultFrom  string        `mapstructure:"default_from"`
	FromName     string        `mapstructure:"from_name"`
	PoolSize     int           `mapstructure:"pool_size"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BaseURL      string        `mapstructure:"base_url"`
	Region       string        `mapstructure:"region"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider:    config.EmailProviderSMTP,
		Timeout:     30 * time.Second,
		SMTPPort:    587,
		UseTLS:      true,
		DefaultFrom: "noreply@example.com",
		FromName:    "Approvals",
		PoolSize:    4,
		IdleTimeout: 30 * time.Second,
	}
}

// FromAppConfig maps the application configuration onto the email channel.
func FromAppConfig(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg.Email.Provider != "" {
		c.Provider = cfg.Email.Provider
	}
	if cfg.Email.FromName != "" {
		c.FromName = cfg.Email.FromName
	}
	if d := config.GetWorkerConfig(cfg, config.DeliveryWorker).Timeout; d > 0 {
		c.Timeout = config.GetDuration(d)
	}

	smtp := cfg.Integrations.SMTP
	c.SMTPHost = smtp.Host
	if smtp.Port > 0 {
		c.SMTPPort = smtp.Port
	}
	c.SMTPUsername = smtp.Username
	c.SMTPPassword = smtp.Password
	c.UseTLS = smtp.UseTLS
	if smtp.PoolSize > 0 {
		c.PoolSize = smtp.PoolSize
	}
	if smtp.IdleTimeout > 0 {
		c.IdleTimeout = config.GetDuration(smtp.IdleTimeout)
	}

	switch c.Provider {
	case config.EmailProviderSES:
		c.DefaultFrom = cfg.Integrations.AWS.SES.FromEmail
	default:
		if smtp.DefaultFrom != "" {
			c.DefaultFrom = smtp.DefaultFrom
		}
	}
	c.BaseURL = cfg.Notifications.BaseURL
	c.Region = cfg.Integrations.AWS.Region
	return c
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DefaultFrom == "" {
		return fmt.Errorf("default_from email is required")
	}
	switch c.Provider {
	case config.EmailProviderSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("smtp_host is required")
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			return fmt.Errorf("smtp_port must be between 1 and 65535")
		}
		if c.PoolSize <= 0 {
			return fmt.Errorf("pool_size must be positive")
		}
	case config.EmailProviderSES:
		if c.Region == "" {
			return fmt.Errorf("region is required for ses")
		}
	case config.EmailProviderNone:
	default:
		return fmt.Errorf("unknown email provider %q", c.Provider)
	}
	return nil
}
