// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	HTTPAddr string
	GRPCAddr string

	// Stores and brokers
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	MigrateOnStart bool

	// Auth
	JWTSigningKey string

	// Payment processor
	StripeAPIKey        string
	StripeWebhookSecret string
	ProcessorTimeout    time.Duration

	// User sync
	SyncLookback time.Duration
	SyncLimit    int
	SyncThrottle time.Duration

	// Recovery
	RecoveryLookback    time.Duration
	RecoveryLimit       int
	RecoveryConcurrency int

	// Reconciliation
	WriteAttempts int
}

// Load reads a .env file when present and then the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()
	return FromEnv(), nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		AppEnv:   getEnv("APP_ENV", "production"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":9090"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		RabbitMQURL:    getEnv("RABBITMQ_URL", ""),
		MigrateOnStart: getBoolEnv("MIGRATE_ON_START", true),

		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),

		StripeAPIKey:        getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProcessorTimeout:    getDurationEnv("PROCESSOR_TIMEOUT", 10*time.Second),

		SyncLookback: getDurationEnv("SYNC_LOOKBACK", 30*24*time.Hour),
		SyncLimit:    getIntEnv("SYNC_LIMIT", 20),
		SyncThrottle: getDurationEnv("SYNC_THROTTLE", 30*time.Second),

		RecoveryLookback:    getDurationEnv("RECOVERY_LOOKBACK", 24*time.Hour),
		RecoveryLimit:       getIntEnv("RECOVERY_LIMIT", 100),
		RecoveryConcurrency: getIntEnv("RECOVERY_CONCURRENCY", 4),

		WriteAttempts: getIntEnv("WRITE_ATTEMPTS", 3),
	}
}

// Validate reports every missing or out-of-range setting the server needs.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.StripeAPIKey == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("STRIPE_API_KEY is required outside development"))
	}
	if c.ProcessorTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROCESSOR_TIMEOUT must be positive, got %s", c.ProcessorTimeout))
	}
	if c.SyncLimit <= 0 || c.RecoveryLimit <= 0 {
		errs = append(errs, errors.New("SYNC_LIMIT and RECOVERY_LIMIT must be positive"))
	}
	if c.RecoveryConcurrency <= 0 {
		errs = append(errs, errors.New("RECOVERY_CONCURRENCY must be positive"))
	}
	if c.WriteAttempts <= 0 {
		errs = append(errs, errors.New("WRITE_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
