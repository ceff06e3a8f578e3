// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Workflow settings
	SafePeriodHours int    // verification window after price agreement
	ProtectionDays  int    // protection plan window after release
	ProtectionPrice string // flat price charged when a plan is purchased

	// External collaborators
	StripeSecretKey string // payment capture/refund (optional, mock provider if not set)
	WebhookURL      string // notification receiver endpoint (optional)
	WebhookSecret   string // HMAC key for signing notification payloads

	// Security
	AdminSecret string // shared secret for admin operations

	// Observability
	OTLPEndpoint string

	// Background sweep
	SweepInterval time.Duration
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultSafePeriodHours = 48
	DefaultProtectionDays  = 10
	DefaultProtectionPrice = "499.00"
	DefaultSweepInterval   = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SafePeriodHours: getEnvInt("SAFE_PERIOD_HOURS", DefaultSafePeriodHours),
		ProtectionDays:  getEnvInt("PROTECTION_DAYS", DefaultProtectionDays),
		ProtectionPrice: getEnv("PROTECTION_PRICE", DefaultProtectionPrice),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SweepInterval:   time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", int(DefaultSweepInterval/time.Second))) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SafePeriodHours <= 0 {
		return fmt.Errorf("SAFE_PERIOD_HOURS must be positive")
	}
	if c.ProtectionDays <= 0 {
		return fmt.Errorf("PROTECTION_DAYS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
