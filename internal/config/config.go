// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; in-memory stores when not set)
	DatabaseURL string

	// Payments
	StripeAPIKey    string // required outside development
	PlatformAccount string // Stripe account funds are released from

	// Engine tuning
	LockWaitTimeout   time.Duration // max wait for a job's financial lock
	SLAResponseWindow time.Duration // dispute response deadline from filing
	MonitorBatchSize  int           // max dispute cases scanned per sweep
	MonitorInterval   time.Duration // background SLA sweep cadence

	// Security
	WebhookSecret string
	AdminSecret   string
	RateLimitRPS  int

	// Observability
	OTLPEndpoint string
}

// Defaults.
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLockWaitTimeout   = 5 * time.Second
	DefaultSLAResponseWindow = 72 * time.Hour
	DefaultMonitorBatchSize  = 200
	DefaultMonitorInterval   = 60 * time.Second
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables. A .env file is
// loaded first when present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StripeAPIKey:      os.Getenv("STRIPE_SECRET_KEY"),
		PlatformAccount:   os.Getenv("STRIPE_PLATFORM_ACCOUNT"),
		LockWaitTimeout:   getEnvDuration("LOCK_WAIT_TIMEOUT", DefaultLockWaitTimeout),
		SLAResponseWindow: getEnvDuration("SLA_RESPONSE_WINDOW", DefaultSLAResponseWindow),
		MonitorBatchSize:  int(getEnvInt64("SLA_MONITOR_BATCH", DefaultMonitorBatchSize)),
		MonitorInterval:   getEnvDuration("SLA_MONITOR_INTERVAL", DefaultMonitorInterval),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if !c.IsDevelopment() && c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required outside development")
	}
	if c.StripeAPIKey != "" && c.PlatformAccount == "" {
		return fmt.Errorf("STRIPE_PLATFORM_ACCOUNT is required when STRIPE_SECRET_KEY is set")
	}
	if c.MonitorBatchSize <= 0 {
		return fmt.Errorf("SLA_MONITOR_BATCH must be positive")
	}
	if c.LockWaitTimeout <= 0 {
		return fmt.Errorf("LOCK_WAIT_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
