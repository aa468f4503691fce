// internal/workers/application/send-notification/config.go
package sendnotification

import (
	"time"

	"approval-notify/internal/common/config"
)

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	Timeout      time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		EmailEnabled: cfg.Notifications.Email.Enabled && cfg.Email.Provider != config.EmailProviderNone,
		SMSEnabled:   cfg.Notifications.SMS.Enabled && cfg.Integrations.AWS.SNS.Enabled,
		Timeout:      30 * time.Second,
	}
	if t := config.GetWorkerConfig(cfg, config.DeliveryWorker).Timeout; t > 0 {
		c.Timeout = config.GetDuration(t)
	}
	return c
}
