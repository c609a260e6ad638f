// Package config loads typed configuration for the gateway from environment
// variables and YAML files, with validation at startup so misconfiguration
// fails fast instead of surfacing mid-request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// GatewayConfig holds the full gateway configuration.
type GatewayConfig struct {
	// Server configures the HTTP listener.
	Server ServerConfig

	// Upstream configures the LLM proxy client.
	Upstream UpstreamConfig

	// Retry configures the upstream retry policy.
	Retry RetryConfig

	// Breaker configures the upstream circuit breaker.
	Breaker BreakerConfig

	// Cache configures the response cache.
	Cache CacheConfig

	// RateLimit configures per-client request throttling.
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Port the gateway listens on. Default: 8080
	Port int

	// ReadTimeout bounds reading a full request. Default: 15s
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a full response. Upstream completions can
	// take a while, so this must exceed the worst-case retry budget.
	// Default: 120s
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps the request body size. Default: 1MiB
	MaxBodyBytes int64
}

// UpstreamConfig holds LLM proxy client settings.
type UpstreamConfig struct {
	// Provider selects the upstream adapter: "openai" (proxy) or
	// "anthropic" (direct). Default: "openai"
	Provider string

	// BaseURL is the OpenAI-compatible proxy endpoint.
	// Default: "http://localhost:4000/v1"
	BaseURL string

	// APIKey authenticates against the upstream.
	APIKey string

	// RequestTimeout bounds a single upstream attempt. Default: 60s
	RequestTimeout time.Duration

	// DefaultModel is used when a request names no model.
	// Default: "gpt-4o-mini"
	DefaultModel string

	// HealthURL is probed by the health checker. Empty disables the probe.
	HealthURL string
}

// RetryConfig holds the upstream retry policy.
type RetryConfig struct {
	// MaxRetries after the initial attempt. Default: 3
	MaxRetries int

	// BaseDelay before the first retry. Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 16s
	MaxDelay time.Duration

	// JitterFraction is the fraction of the capped delay added as uniform
	// random jitter, in [0, 1). Default: 0.1
	JitterFraction float64
}

// BreakerConfig holds upstream circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5
	FailureThreshold int

	// RecoveryTimeout before an open breaker admits a trial call.
	// Default: 30s
	RecoveryTimeout time.Duration

	// HalfOpenMaxTrials is the number of concurrent trial calls admitted
	// while half-open. Default: 1
	HalfOpenMaxTrials int
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Backend selects the store: "memory", "postgres" or "redis".
	// Default: "memory"
	Backend string

	// TTL is the entry lifetime. Default: 1h
	TTL time.Duration

	// SweepSchedule is the cron expression for the periodic expiry sweep.
	// Empty disables the sweeper. Default: "*/10 * * * *"
	SweepSchedule string

	// PostgresDSN is required when Backend is "postgres".
	PostgresDSN string

	// RedisAddr is required when Backend is "redis". Default: "localhost:6379"
	RedisAddr string

	// RedisPassword is optional.
	RedisPassword string
}

// RateLimitConfig holds request throttling settings.
type RateLimitConfig struct {
	// Enabled toggles rate limiting. Default: true
	Enabled bool

	// RequestsPerSecond is the sustained per-client rate. Default: 10
	RequestsPerSecond float64

	// Burst is the per-client burst allowance. Default: 20
	Burst int
}

// LoadGatewayConfig loads configuration from environment variables.
// Returns a config with defaults if environment variables are not set.
func LoadGatewayConfig() (*GatewayConfig, error) {
	config := &GatewayConfig{
		Server: ServerConfig{
			Port:            getEnvInt("GATEWAY_PORT", 8080),
			ReadTimeout:     getEnvDuration("GATEWAY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEWAY_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1<<20)),
		},
		Upstream: UpstreamConfig{
			Provider:       getEnvOrDefault("UPSTREAM_PROVIDER", "openai"),
			BaseURL:        getEnvOrDefault("UPSTREAM_BASE_URL", "http://localhost:4000/v1"),
			APIKey:         os.Getenv("UPSTREAM_API_KEY"),
			RequestTimeout: getEnvDuration("UPSTREAM_REQUEST_TIMEOUT", 60*time.Second),
			DefaultModel:   getEnvOrDefault("UPSTREAM_DEFAULT_MODEL", "gpt-4o-mini"),
			HealthURL:      os.Getenv("UPSTREAM_HEALTH_URL"),
		},
		Retry: RetryConfig{
			MaxRetries:     getEnvInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:      getEnvDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 16*time.Second),
			JitterFraction: getEnvFloat("RETRY_JITTER_FRACTION", 0.1),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:   getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
			HalfOpenMaxTrials: getEnvInt("BREAKER_HALF_OPEN_MAX_TRIALS", 1),
		},
		Cache: CacheConfig{
			Backend:       getEnvOrDefault("CACHE_BACKEND", "memory"),
			TTL:           getEnvDuration("CACHE_TTL", time.Hour),
			SweepSchedule: getEnvOrDefault("CACHE_SWEEP_SCHEDULE", "*/10 * * * *"),
			PostgresDSN:   os.Getenv("CACHE_POSTGRES_DSN"),
			RedisAddr:     getEnvOrDefault("CACHE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("CACHE_REDIS_PASSWORD"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATELIMIT_ENABLED", true),
			RequestsPerSecond: getEnvFloat("RATELIMIT_RPS", 10),
			Burst:             getEnvInt("RATELIMIT_BURST", 20),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}

	return config, nil
}

// Validate checks configuration correctness.
func (c *GatewayConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("GATEWAY_PORT must be between 1 and 65535")
	}

	if c.Upstream.Provider != "openai" && c.Upstream.Provider != "anthropic" {
		return fmt.Errorf("UPSTREAM_PROVIDER must be \"openai\" or \"anthropic\"")
	}

	if c.Upstream.Provider == "openai" && c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL cannot be empty")
	}

	if c.Upstream.RequestTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_REQUEST_TIMEOUT must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}

	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < RETRY_BASE_DELAY <= RETRY_MAX_DELAY")
	}

	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("RETRY_JITTER_FRACTION must be in [0, 1)")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}

	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("BREAKER_RECOVERY_TIMEOUT must be positive")
	}

	if c.Breaker.HalfOpenMaxTrials < 1 {
		return fmt.Errorf("BREAKER_HALF_OPEN_MAX_TRIALS must be at least 1")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("CACHE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be \"memory\", \"postgres\" or \"redis\"")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("RATELIMIT_RPS must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("RATELIMIT_BURST must be at least 1")
		}
	}

	return nil
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool parses boolean environment variable with default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt parses integer environment variable with default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat parses float environment variable with default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration parses duration environment variable with default.
// Supports formats like "30s", "1m", "2h".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
