// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Auth          AuthConfig              `mapstructure:"auth"`
	Approval      ApprovalConfig          `mapstructure:"approval"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Delivery      DeliveryConfig          `mapstructure:"delivery"`
	Email         EmailConfig             `mapstructure:"email"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
	PingInterval    int    `mapstructure:"ping_interval"`    // milliseconds, realtime keep-alive
}

// Supported values of DatabaseConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// GetDSN returns the modernc sqlite DSN with foreign keys and a busy timeout enabled.
func (s SQLiteConfig) GetDSN() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", s.Path)
}

// RedisConfig addresses the Redis shared by the delivery queue and the realtime broker.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`  // milliseconds
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker pool.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // delivery attempts per job
}

// AuthConfig holds bearer token settings shared by the REST and realtime surfaces.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	TokenTTL  int    `mapstructure:"token_ttl"` // minutes
}

// ApprovalConfig tunes the approval state machine.
type ApprovalConfig struct {
	HeadDesignations   []string `mapstructure:"head_designations"`
	DHSingleTransition bool     `mapstructure:"dh_single_transition"`
	RejectionFinalizes bool     `mapstructure:"rejection_finalizes"`
}

// NotificationConfig holds settings for the notification service and dispatcher.
type NotificationConfig struct {
	DispatchBuffer  int    `mapstructure:"dispatch_buffer"`
	DispatchWorkers int    `mapstructure:"dispatch_workers"`
	CatalogPath     string `mapstructure:"catalog_path"`
	BaseURL         string `mapstructure:"base_url"`
	Email           struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled           bool   `mapstructure:"enabled"`
		PriorityThreshold string `mapstructure:"priority_threshold"`
	} `mapstructure:"sms"`
}

// DeliveryConfig holds settings for the durable delivery queue.
type DeliveryConfig struct {
	KeyPrefix         string `mapstructure:"key_prefix"`
	BackoffBase       int    `mapstructure:"backoff_base"`       // milliseconds
	PollInterval      int    `mapstructure:"poll_interval"`      // milliseconds
	VisibilityTimeout int    `mapstructure:"visibility_timeout"` // milliseconds
	Retention         int64  `mapstructure:"retention"`          // entries kept per outcome list
	MaintenanceEvery  int    `mapstructure:"maintenance_every"`  // milliseconds
}

// Supported values of EmailConfig.Provider.
const (
	EmailProviderSMTP = "smtp"
	EmailProviderSES  = "ses"
	EmailProviderNone = "none"
)

type EmailConfig struct {
	Provider string `mapstructure:"provider"`
	FromName string `mapstructure:"from_name"`
}

// IntegrationConfig holds settings for outbound email and SMS providers.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	SMTP SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	UseTLS      bool   `mapstructure:"use_tls"`
	DefaultFrom string `mapstructure:"default_from"`
	PoolSize    int    `mapstructure:"pool_size"`
	IdleTimeout int    `mapstructure:"idle_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TokenTTLDuration returns the configured bearer token lifetime.
func (a AuthConfig) TokenTTLDuration() time.Duration {
	return time.Duration(a.TokenTTL) * time.Minute
}
