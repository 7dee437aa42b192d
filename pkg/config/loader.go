package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Load reads the service configuration from the environment, applying
// defaults and then validating. On any problem it returns a *LoadError
// naming every invalid field so startup can report them all at once.
func Load() (*Config, error) {
	errs := &LoadError{}

	cfg := &Config{
		Port:          getEnvOrDefault("PORT", DefaultPort),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		APISecretKey:  os.Getenv("API_SECRET_KEY"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		RateLimitWindow:      parseDurationMillis("RATE_LIMIT_WINDOW_MS", DefaultRateLimitWindow, errs),
		RateLimitMaxRequests: parseIntOrDefault("RATE_LIMIT_MAX_REQUESTS", DefaultRateLimitMaxRequests, errs),
		AuthRateLimitWindow:  DefaultAuthRateLimitWindow,
		AuthRateLimitMax:     DefaultAuthRateLimitMax,

		MaxExecutionTime:        parseDurationSeconds("MAX_EXECUTION_TIME", DefaultMaxExecutionTime, errs),
		MaxConcurrentExecutions: parseIntOrDefault("MAX_CONCURRENT_EXECUTIONS", DefaultMaxConcurrentExecutions, errs),
		MaxConcurrentPerUser:    DefaultMaxConcurrentPerUser,

		ShutdownGrace:          DefaultShutdownGrace,
		ExecutionRetentionDays: DefaultExecutionRetentionDays,
		LogRetentionDays:       DefaultLogRetentionDays,

		WebhookAllowLocalhost: os.Getenv("WEBHOOK_ALLOW_LOCALHOST") == "true",
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	validate(cfg, errs)

	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config, errs *LoadError) {
	if cfg.DatabaseURL == "" {
		errs.Add("DATABASE_URL", ErrMissingRequiredField)
	}
	if cfg.RedisURL == "" {
		errs.Add("REDIS_URL", ErrMissingRequiredField)
	}
	requireSecret(errs, "JWT_SECRET", cfg.JWTSecret)
	requireSecret(errs, "API_SECRET_KEY", cfg.APISecretKey)
	requireSecret(errs, "ENCRYPTION_KEY", cfg.EncryptionKey)

	if cfg.MaxConcurrentExecutions < 1 {
		errs.Add("MAX_CONCURRENT_EXECUTIONS", ErrInvalidValue)
	}
	if cfg.MaxExecutionTime < time.Second {
		errs.Add("MAX_EXECUTION_TIME", ErrInvalidValue)
	}
	if cfg.RateLimitMaxRequests < 1 {
		errs.Add("RATE_LIMIT_MAX_REQUESTS", ErrInvalidValue)
	}
}

func requireSecret(errs *LoadError, field, value string) {
	if value == "" {
		errs.Add(field, ErrMissingRequiredField)
		return
	}
	if len(value) < minSecretBytes {
		errs.Add(field, ErrInvalidValue)
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntOrDefault(key string, def int, errs *LoadError) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		errs.Add(key, ErrInvalidValue)
		return def
	}
	return v
}

func parseDurationMillis(key string, def time.Duration, errs *LoadError) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		errs.Add(key, ErrInvalidValue)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func parseDurationSeconds(key string, def time.Duration, errs *LoadError) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		errs.Add(key, ErrInvalidValue)
		return def
	}
	return time.Duration(secs) * time.Second
}
