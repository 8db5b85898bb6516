package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	EmailProviderSES  = "ses"
	EmailProviderSMTP = "smtp"
)

type Config struct {
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Driver            string        `env:"DB_DRIVER" envDefault:"postgres"`
	Host              string        `env:"DB_HOST" envDefault:"localhost"`
	Port              int           `env:"DB_PORT" envDefault:"5432"`
	User              string        `env:"DB_USER" envDefault:"postgres"`
	Password          string        `env:"DB_PASSWORD"`
	Name              string        `env:"DB_NAME" envDefault:"medauth"`
	SSLMode           string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"5m"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"1m"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"medauth"`
}

// RedisConfig is optional; an empty URL disables cookie sessions
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type ServerConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Env            string        `env:"ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	TrustedProxies []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type AuthConfig struct {
	JWTSecret             string        `env:"JWT_SECRET"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	MaxFailedLogins       int           `env:"MAX_FAILED_LOGINS" envDefault:"5"`
	LockoutDuration       time.Duration `env:"LOCKOUT_DURATION" envDefault:"30m"`
	VerificationCodeTTL   time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"10m"`
	PasswordResetTTL      time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	PasswordHistoryLimit  int           `env:"PASSWORD_HISTORY_LIMIT" envDefault:"5"`
	PasswordHashAlgorithm string        `env:"PASSWORD_HASH_ALGORITHM" envDefault:"bcrypt"`
	TimingDelayBaseMs     int           `env:"TIMING_DELAY_BASE_MS" envDefault:"500"`
	TimingDelayRandomMs   int           `env:"TIMING_DELAY_RANDOM_MS" envDefault:"100"`
	TimingDelayOnSuccess  bool          `env:"TIMING_DELAY_ON_SUCCESS" envDefault:"false"`
	CleanupInterval       time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
}

type EmailConfig struct {
	Provider     string `env:"EMAIL_PROVIDER" envDefault:"smtp"`
	FromAddress  string `env:"EMAIL_FROM" envDefault:"no-reply@medauth.local"`
	ResetURLBase string `env:"PASSWORD_RESET_URL_BASE" envDefault:"http://localhost:5173/reset-password"`
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
}

// LoadDatabase reads only the Postgres settings, for tools such as the
// migration runner that never touch auth or email.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[DatabaseConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("migrations only apply to the %q driver (got %q)", DriverPostgres, cfg.Driver)
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &cfg, nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := validateJWTSecret(cfg.Auth.JWTSecret, cfg.Server.Env); err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required")
		}
	case DriverMongo:
		if cfg.Mongo.URI == "" {
			return nil, fmt.Errorf("MONGO_URI is required")
		}
	default:
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q (got %q)", DriverPostgres, DriverMongo, cfg.Database.Driver)
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Email.validate(); err != nil {
		return nil, err
	}

	cfg.Server.AllowedOrigins = parseAllowedOrigins(cfg.Server.Env, cfg.Server.AllowedOrigins)

	return &cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *AuthConfig) validate() error {
	if c.MaxFailedLogins < 1 {
		return fmt.Errorf("MAX_FAILED_LOGINS must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.VerificationCodeTTL <= 0 || c.PasswordResetTTL <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_TTL and PASSWORD_RESET_TTL must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive")
	}
	if c.PasswordHistoryLimit < 1 {
		return fmt.Errorf("PASSWORD_HISTORY_LIMIT must be at least 1")
	}
	return nil
}

func (c *EmailConfig) validate() error {
	switch c.Provider {
	case EmailProviderSES:
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required for the ses email provider")
		}
	case EmailProviderSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp email provider")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderSMTP, c.Provider)
	}
	if c.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM is required")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// IsProduction gates secure cookies and strict CORS
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func parseAllowedOrigins(env string, configured []string) []string {
	origins := make([]string, 0, len(configured))
	for _, origin := range configured {
		if o := strings.TrimSpace(origin); o != "" {
			origins = append(origins, o)
		}
	}

	if env == "production" || len(origins) > 0 {
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
