// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database (idempotency record store)
	DatabaseURL string `koanf:"database_url"`

	// Redis (response cache / nonce store). Only connected in production.
	RedisURL string `koanf:"redis_url"`

	// JWT session authentication. The previous secret stays valid during a
	// dual-key rotation window.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Request signing. Per-principal secrets are derived from the base
	// secret; rotating it invalidates every derived secret at once.
	SigningBaseSecret string `koanf:"signing_base_secret"`

	// SigningMaxAgeMS bounds the replay window for signed requests, in
	// milliseconds.
	SigningMaxAgeMS int `koanf:"signing_max_age_ms"`

	// CacheTTLSeconds bounds the lifetime of cached GET responses.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	// IdempotencyExpiryHours is how long completed idempotency records
	// shield their keys from re-execution.
	IdempotencyExpiryHours int `koanf:"idempotency_expiry_hours"`

	// Tracing
	TracingEnabled bool    `koanf:"tracing_enabled"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	SamplingRate   float64 `koanf:"sampling_rate"`

	// CORSAllowedOrigins is a comma-separated origin allowlist. Empty
	// disables CORS entirely.
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	// RateLimitPerMinute caps requests per caller per minute. Zero falls
	// back to the default global limit.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// ProfilingEnabled exposes /debug/pprof. Refused in production.
	ProfilingEnabled bool `koanf:"profiling_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingSigningBaseSecret = errors.New("SIGNING_BASE_SECRET is required")
	ErrMissingRedisURL          = errors.New("REDIS_URL is required in production")
	ErrInvalidInteger           = errors.New("must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultSigningMaxAgeMS        = 5 * 60 * 1000
	DefaultCacheTTLSeconds        = 300
	DefaultIdempotencyExpiryHours = 24
	DefaultSamplingRate           = 0.1
	DefaultRateLimitPerMinute     = 100
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values. Returns the
// loaded config and a slice of validation errors (empty if valid). If a
// config file path is provided and the file cannot be loaded, an error is
// returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}
	signingMaxAge, maxAgeErr := getEnvIntOrDefault("SIGNING_MAX_AGE_MS", k.Int("signing_max_age_ms"), DefaultSigningMaxAgeMS)
	if maxAgeErr != nil {
		loadErrs = append(loadErrs, maxAgeErr)
	}
	cacheTTL, cacheTTLErr := getEnvIntOrDefault("CACHE_TTL_SECONDS", k.Int("cache_ttl_seconds"), DefaultCacheTTLSeconds)
	if cacheTTLErr != nil {
		loadErrs = append(loadErrs, cacheTTLErr)
	}
	idempotencyExpiry, expiryErr := getEnvIntOrDefault("IDEMPOTENCY_EXPIRY_HOURS", k.Int("idempotency_expiry_hours"), DefaultIdempotencyExpiryHours)
	if expiryErr != nil {
		loadErrs = append(loadErrs, expiryErr)
	}
	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("sampling_rate"), DefaultSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		tracingEnabled = val == "true" || val == "1"
	}

	profilingEnabled := k.Bool("profiling_enabled")
	if val := os.Getenv("PROFILING_ENABLED"); val != "" {
		profilingEnabled = val == "true" || val == "1"
	}

	rateLimit, rateLimitErr := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if rateLimitErr != nil {
		loadErrs = append(loadErrs, rateLimitErr)
	}

	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefault("ARTHA_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:               getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:              getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:      getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		SigningBaseSecret:      getEnvOrKoanf("SIGNING_BASE_SECRET", k, "signing_base_secret"),
		SigningMaxAgeMS:        signingMaxAge,
		CacheTTLSeconds:        cacheTTL,
		IdempotencyExpiryHours: idempotencyExpiry,
		TracingEnabled:         tracingEnabled,
		OTLPEndpoint:           getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		SamplingRate:           samplingRate,
		CORSAllowedOrigins:     getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		RateLimitPerMinute:     rateLimit,
		ProfilingEnabled:       profilingEnabled,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the deployment runs in a production-like
// mode. Only then is a live cache backend connected; elsewhere all cache
// operations are no-ops.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningMaxAge returns the replay window as a duration.
func (c *Config) SigningMaxAge() time.Duration {
	return time.Duration(c.SigningMaxAgeMS) * time.Millisecond
}

// CacheTTL returns the response cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// IdempotencyExpiry returns the idempotency record lifetime as a duration.
func (c *Config) IdempotencyExpiry() time.Duration {
	return time.Duration(c.IdempotencyExpiryHours) * time.Hour
}

// CORSOrigins splits the configured allowlist into individual origins.
func (c *Config) CORSOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	return strings.Split(c.CORSAllowedOrigins, ",")
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.SigningBaseSecret == "" {
		errs = append(errs, ErrMissingSigningBaseSecret)
	}
	if c.IsProduction() && c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	return errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
