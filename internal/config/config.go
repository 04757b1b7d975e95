// Package config provides configuration management for the notification
// gateway. It loads configuration from environment variables with sensible
// defaults and validates it so the process fails fast on a broken setup —
// in particular, the gateway refuses to start without the shared signing
// secret, since the authentication gate cannot function without it.
//
// Environment Variables:
//
// Application settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Upstream services:
//   - USER_SERVICE_URL: User-profile service base URL (default: http://localhost:8081)
//   - TEMPLATE_SERVICE_URL: Template service base URL (default: http://localhost:8082)
//   - NOTIFICATION_SERVICE_URL: Notification-delivery service base URL (default: http://localhost:8083)
//   - UPSTREAM_TIMEOUT: Per-call upstream timeout (default: 30s)
//   - MAX_BODY_SIZE: Request body cap in bytes (default: 1048576)
//
// Redis (shared rate-limit store):
//   - REDIS_ADDRESS: Redis server address; empty selects the in-process store
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security:
//   - JWT_SECRET: Shared token signing secret (required, minimum 32 characters)
//
// Rate limiting:
//   - RATE_LIMIT_ENABLED: Enable the distributed limiter (default: true)
//   - RATE_LIMIT_DEFAULT: Requests allowed per window (default: 100)
//   - RATE_LIMIT_WINDOW: Counting window (default: 60s)
//   - RATE_LIMIT_BLOCK_DURATION: Sticky block duration once over limit (default: 60s)
//   - BURST_LIMIT_ENABLED: Enable the in-process burst guard (default: false)
//   - BURST_LIMIT_RPS: Burst guard refill rate per second (default: 50)
//   - BURST_LIMIT_SIZE: Burst guard bucket size (default: 100)
//
// TLS (optional):
//   - TLS_CERT, TLS_KEY: Certificate and key paths; both empty serves plain HTTP
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the gateway. It is constructed
// once at process start and passed by reference into each component; no
// package reads the environment after startup.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Upstream services
	UserServiceURL         string
	TemplateServiceURL     string
	NotificationServiceURL string
	UpstreamTimeout        time.Duration
	MaxBodySize            int64

	// Redis configuration for the shared rate-limit store
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// JWT authentication configuration
	JWTSecret string

	// Rate limiting configuration
	RateLimitEnabled       bool
	RateLimitDefault       int
	RateLimitWindow        time.Duration
	RateLimitBlockDuration time.Duration
	BurstLimitEnabled      bool
	BurstLimitRPS          float64
	BurstLimitSize         int

	// TLS configuration
	TLSCert string
	TLSKey  string
}

// Load creates a new Config with values from environment variables,
// falling back to defaults where unset. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		UserServiceURL:         getEnv("USER_SERVICE_URL", "http://localhost:8081"),
		TemplateServiceURL:     getEnv("TEMPLATE_SERVICE_URL", "http://localhost:8082"),
		NotificationServiceURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8083"),
		UpstreamTimeout:        getDurationEnv("UPSTREAM_TIMEOUT", 30*time.Second),
		MaxBodySize:            getInt64Env("MAX_BODY_SIZE", 1<<20),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RateLimitEnabled:       getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault:       getIntEnv("RATE_LIMIT_DEFAULT", 100),
		RateLimitWindow:        getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitBlockDuration: getDurationEnv("RATE_LIMIT_BLOCK_DURATION", 60*time.Second),
		BurstLimitEnabled:      getBoolEnv("BURST_LIMIT_ENABLED", false),
		BurstLimitRPS:          getFloatEnv("BURST_LIMIT_RPS", 50),
		BurstLimitSize:         getIntEnv("BURST_LIMIT_SIZE", 100),

		TLSCert: getEnv("TLS_CERT", ""),
		TLSKey:  getEnv("TLS_KEY", ""),
	}
}

// Validate checks required fields, formats, and ranges. The gateway must
// not start when validation fails.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	for name, value := range map[string]string{
		"USER_SERVICE_URL":         c.UserServiceURL,
		"TEMPLATE_SERVICE_URL":     c.TemplateServiceURL,
		"NOTIFICATION_SERVICE_URL": c.NotificationServiceURL,
	} {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, value)
		}
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("MAX_BODY_SIZE must be positive")
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		if c.RateLimitDefault < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a positive duration")
		}
		if c.RateLimitBlockDuration <= 0 {
			return fmt.Errorf("RATE_LIMIT_BLOCK_DURATION must be a positive duration")
		}
	}

	if c.BurstLimitEnabled {
		if c.BurstLimitRPS <= 0 {
			return fmt.Errorf("BURST_LIMIT_RPS must be positive")
		}
		if c.BurstLimitSize < 1 {
			return fmt.Errorf("BURST_LIMIT_SIZE must be a positive number")
		}
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
