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
	Port     string // gateway HTTP port
	Env      string // "development", "staging", "production"
	LogLevel string

	// Model server settings
	ModelServerURL string        // base URL of the scoring service
	ModelPort      string        // port the model server listens on (cmd/modelserver)
	ModelPath      string        // path to model weights loaded at startup
	RequestTimeout time.Duration // per-attempt timeout for model calls
	MaxRetries     int           // dispatch attempts before falling back
	RetryDelay     time.Duration // fixed delay between attempts

	// Circuit breaker
	BreakerThreshold    int           // consecutive failures before the circuit opens
	BreakerOpenDuration time.Duration // how long the circuit stays open before probing

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Fallback rules
	RulesPath string // YAML known-address lists (optional)

	// Security
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults mirror the original integration settings: model server on :5001,
// gateway on :5000, 30s timeout, 3 attempts, 1s between attempts.
const (
	DefaultPort           = "5000"
	DefaultModelPort      = "5001"
	DefaultModelServerURL = "http://localhost:5001"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = time.Second
	DefaultRateLimit      = 120
	DefaultBreakerFails   = 5
	DefaultBreakerOpen    = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		ModelServerURL:      getEnv("MODEL_SERVER_URL", DefaultModelServerURL),
		ModelPort:           getEnv("MODEL_PORT", DefaultModelPort),
		ModelPath:           os.Getenv("MODEL_PATH"),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", DefaultTimeout),
		MaxRetries:          getEnvInt("MAX_RETRIES", DefaultMaxRetries),
		RetryDelay:          getEnvDuration("RETRY_DELAY", DefaultRetryDelay),
		BreakerThreshold:    getEnvInt("BREAKER_THRESHOLD", DefaultBreakerFails),
		BreakerOpenDuration: getEnvDuration("BREAKER_OPEN_DURATION", DefaultBreakerOpen),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RulesPath:           os.Getenv("RULES_PATH"),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.ModelServerURL == "" {
		return fmt.Errorf("MODEL_SERVER_URL is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative, got %s", c.RetryDelay)
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are treated as seconds, matching the original
		// REQUEST_TIMEOUT=30 style configuration.
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
