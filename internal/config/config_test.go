package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("SMTP_HOST", "smtp.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 5, cfg.Auth.MaxFailedLogins)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 10*time.Minute, cfg.Auth.VerificationCodeTTL)
	assert.Equal(t, time.Hour, cfg.Auth.PasswordResetTTL)
	assert.Equal(t, 5, cfg.Auth.PasswordHistoryLimit)
	assert.Equal(t, "bcrypt", cfg.Auth.PasswordHashAlgorithm)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Empty(t, cfg.Redis.URL)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_FAILED_LOGINS", "3")
	t.Setenv("LOCKOUT_DURATION", "15m")
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Auth.MaxFailedLogins)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_DURATION", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}, "at least 16"},
		{"production needs longer secret", map[string]string{"ENV": "production", "JWT_SECRET": "0123456789abcdef0123"}, "at least 32"},
		{"missing db password", map[string]string{"DB_PASSWORD": ""}, "DB_PASSWORD is required"},
		{"unknown driver", map[string]string{"DB_DRIVER": "sqlite"}, "DB_DRIVER must be"},
		{"zero lockout threshold", map[string]string{"MAX_FAILED_LOGINS": "0"}, "MAX_FAILED_LOGINS"},
		{"zero history limit", map[string]string{"PASSWORD_HISTORY_LIMIT": "0"}, "PASSWORD_HISTORY_LIMIT"},
		{"smtp without host", map[string]string{"SMTP_HOST": ""}, "SMTP_HOST is required"},
		{"unknown email provider", map[string]string{"EMAIL_PROVIDER": "pigeon"}, "EMAIL_PROVIDER must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MongoDriverSkipsPostgresPassword(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "mongo")
	t.Setenv("DB_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
}

func TestLoadDatabase_IgnoresAuthAndEmail(t *testing.T) {
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadDatabase()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Contains(t, cfg.DSN(), "db.internal")
}

func TestLoadDatabase_Validation(t *testing.T) {
	t.Run("password required", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "")
		_, err := LoadDatabase()
		assert.ErrorContains(t, err, "DB_PASSWORD")
	})

	t.Run("mongo has no migrations", func(t *testing.T) {
		t.Setenv("DB_PASSWORD", "test")
		t.Setenv("DB_DRIVER", DriverMongo)
		_, err := LoadDatabase()
		assert.ErrorContains(t, err, "migrations only apply")
	})
}

func TestParseAllowedOrigins_ProductionDefaultsEmpty(t *testing.T) {
	assert.Empty(t, parseAllowedOrigins("production", nil))
	assert.NotEmpty(t, parseAllowedOrigins("development", nil))
}
