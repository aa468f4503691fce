package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_SQLiteWithDefaults(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite:
    path: /tmp/x.db
  redis:
    address: localhost:6379
auth:
  jwt_secret: ${TEST_JWT_SECRET}
email:
  provider: none
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, []string{"Department Head"}, cfg.Approval.HeadDesignations)
	assert.False(t, cfg.Approval.DHSingleTransition)
	assert.False(t, cfg.Approval.RejectionFinalizes)
	assert.Equal(t, "high", cfg.Notifications.SMS.PriorityThreshold)
	assert.Equal(t, int64(1000), cfg.Delivery.Retention)
	assert.Equal(t, 20, cfg.Database.Redis.PoolSize)
	assert.Equal(t, 3000, cfg.Database.Redis.ReadTimeout)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTLDuration())

	w := GetWorkerConfig(cfg, DeliveryWorker)
	assert.True(t, w.Enabled)
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 3, w.MaxRetries)
	assert.True(t, IsWorkerEnabled(cfg, DeliveryWorker))
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "postgres requires host",
			body: `
database:
  driver: postgres
  redis: {address: "r:6379"}
auth: {jwt_secret: x}
`,
			wantErr: "database.postgres.host is required",
		},
		{
			name: "unknown driver",
			body: `
database:
  driver: mysql
  redis: {address: "r:6379"}
auth: {jwt_secret: x}
`,
			wantErr: `database.driver "mysql" is not supported`,
		},
		{
			name: "redis required",
			body: `
database:
  driver: sqlite
auth: {jwt_secret: x}
`,
			wantErr: "database.redis.address is required",
		},
		{
			name: "smtp host required when email enabled",
			body: `
database:
  driver: sqlite
  redis: {address: "r:6379"}
auth: {jwt_secret: x}
notifications:
  email: {enabled: true}
`,
			wantErr: "integrations.smtp.host is required",
		},
		{
			name: "bad sms threshold",
			body: `
database:
  driver: sqlite
  redis: {address: "r:6379"}
auth: {jwt_secret: x}
email: {provider: none}
notifications:
  sms: {priority_threshold: urgent}
`,
			wantErr: "priority_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOverrideEmptyConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SMTP_PASSWORD", "pw")

	cfg := &Config{}
	cfg.Integrations.SMTP.Password = "keep"
	overrideEmptyConfig(cfg)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "keep", cfg.Integrations.SMTP.Password)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", SQLiteConfig{Path: "a.db"}.GetDSN())
}
