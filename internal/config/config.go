package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DispatchMode selects how ticket-created events reach the triage orchestrator.
type DispatchMode string

const (
	// DispatchInline runs triage inside the publishing call.
	DispatchInline DispatchMode = "inline"
	// DispatchQueued appends events to a Redis stream consumed by the triage worker.
	DispatchQueued DispatchMode = "queued"
)

// FallbackPolicy decides what the classifier does when providers are missing or fail.
type FallbackPolicy string

const (
	// FallbackHeuristic degrades to keyword classification instead of failing.
	FallbackHeuristic FallbackPolicy = "heuristic"
	// FallbackStrict surfaces missing providers and exhausted attempts as errors.
	FallbackStrict FallbackPolicy = "strict"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Triage       TriageConfig
	Providers    ProvidersConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	AdminEmail            string
	AdminPassword         string
}

// NotificationConfig holds outbound notification settings.
type NotificationConfig struct {
	EmailFrom    string
	WebhookURL   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// TriageConfig controls the triage pipeline.
type TriageConfig struct {
	DispatchMode           DispatchMode
	FallbackPolicy         FallbackPolicy
	ProviderTimeoutSeconds int
	StreamPrefix           string
	ConsumerGroup          string
	ConsumerID             string
	WorkerConcurrency      int
	ClaimIdleSeconds       int
	MaxDeliveries          int
}

// ProvidersConfig holds classification provider credentials. A provider is
// enabled only when its API key is present.
type ProvidersConfig struct {
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "triage-worker"
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-triage-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			AdminEmail:            os.Getenv("ADMIN_EMAIL"),
			AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		},
		Notification: NotificationConfig{
			EmailFrom:    getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: os.Getenv("SMTP_USERNAME"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		},
		Triage: TriageConfig{
			DispatchMode:           DispatchMode(strings.ToLower(getEnv("TRIAGE_DISPATCH_MODE", string(DispatchQueued)))),
			FallbackPolicy:         FallbackPolicy(strings.ToLower(getEnv("TRIAGE_FALLBACK_POLICY", string(FallbackHeuristic)))),
			ProviderTimeoutSeconds: getEnvAsInt("TRIAGE_PROVIDER_TIMEOUT_SECONDS", 20),
			StreamPrefix:           getEnv("TRIAGE_STREAM_PREFIX", "triage"),
			ConsumerGroup:          getEnv("TRIAGE_CONSUMER_GROUP", "triage-workers"),
			ConsumerID:             getEnv("TRIAGE_CONSUMER_ID", hostname),
			WorkerConcurrency:      getEnvAsInt("TRIAGE_WORKER_CONCURRENCY", 4),
			ClaimIdleSeconds:       getEnvAsInt("TRIAGE_CLAIM_IDLE_SECONDS", 300),
			MaxDeliveries:          getEnvAsInt("TRIAGE_MAX_DELIVERIES", 5),
		},
		Providers: ProvidersConfig{
			GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
			GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash-8b"),
			GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Triage.DispatchMode {
	case DispatchInline, DispatchQueued:
	default:
		errs = append(errs, fmt.Errorf("invalid TRIAGE_DISPATCH_MODE %q (want inline or queued)", c.Triage.DispatchMode))
	}

	switch c.Triage.FallbackPolicy {
	case FallbackHeuristic:
	case FallbackStrict:
		if !c.Providers.AnyConfigured() {
			errs = append(errs, errors.New("TRIAGE_FALLBACK_POLICY=strict requires GEMINI_API_KEY or ANTHROPIC_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid TRIAGE_FALLBACK_POLICY %q (want heuristic or strict)", c.Triage.FallbackPolicy))
	}

	if c.Triage.ProviderTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_PROVIDER_TIMEOUT_SECONDS %d (must be > 0)", c.Triage.ProviderTimeoutSeconds))
	}
	if c.Triage.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_WORKER_CONCURRENCY %d (must be > 0)", c.Triage.WorkerConcurrency))
	}
	if c.Triage.MaxDeliveries <= 0 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_MAX_DELIVERIES %d (must be > 0)", c.Triage.MaxDeliveries))
	}

	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ProviderTimeout bounds a single provider attempt.
func (t TriageConfig) ProviderTimeout() time.Duration {
	return time.Duration(t.ProviderTimeoutSeconds) * time.Second
}

// ClaimIdle is how long a delivery may sit unacknowledged before another consumer reclaims it.
func (t TriageConfig) ClaimIdle() time.Duration {
	return time.Duration(t.ClaimIdleSeconds) * time.Second
}

// AnyConfigured reports whether at least one classification provider has credentials.
func (p ProvidersConfig) AnyConfigured() bool {
	return p.GeminiAPIKey != "" || p.AnthropicAPIKey != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
