package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port    string
	BaseURL string
	Version string

	// Database; empty means the in-memory repository.
	DatabaseURL string

	// Redis; empty disables the event bus and dead-letter queue.
	RedisURL string

	// Registry
	ACPAPIBase   string
	ACPCachePath string

	// Secrets
	WebhookHMACSecret string
	AdminSecret       string
	APIWriteKey       string

	// MQTT; empty disables the bridge.
	MQTTBrokerURL string

	// Background work
	RegistryRefreshInterval time.Duration
	ExpirySweepInterval     time.Duration
	RestartDelay            time.Duration
	AdminRefreshCooldown    time.Duration
	WebhookWorkers          int
	WebhookTimeout          time.Duration

	// Requests per minute and client IP
	GlobalRateLimit  int
	AuthRateLimit    int
	RefreshRateLimit int
	// Bounties per poster per hour
	PostLimit int

	CORSOrigins []string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint     string
	ServiceName      string
	Environment      string
	TraceSampleRatio float64

	// Features
	EnableMetrics bool
	EnableTracing bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8000"),
		BaseURL:           getEnv("BASE_URL", "https://clawbounty.io"),
		Version:           getEnv("APP_VERSION", "0.5.0"),
		DatabaseURL:       getEnv("DB_URL", getEnv("DATABASE_URL", "")),
		RedisURL:          getEnv("REDIS_URL", ""),
		ACPAPIBase:        getEnv("ACP_API_BASE", "https://acpx.virtuals.io/api/agents"),
		ACPCachePath:      getEnv("ACP_CACHE_PATH", "/data/acp_cache.json"),
		WebhookHMACSecret: getEnv("WEBHOOK_HMAC_SECRET", ""),
		AdminSecret:       getEnv("ADMIN_SECRET", ""),
		APIWriteKey:       getEnv("API_WRITE_KEY", ""),
		MQTTBrokerURL:     getEnv("MQTT_BROKER_URL", ""),
		CORSOrigins:       getEnvList("CORS_ORIGINS", "https://clawbounty.io,http://localhost:8000,http://127.0.0.1:8000"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", ""),
		ServiceName:       getEnv("SERVICE_NAME", "clawbounty"),
		Environment:       getEnv("APP_ENV", "production"),
		EnableMetrics:     getEnvBool("ENABLE_METRICS", true),
		EnableTracing:     getEnvBool("ENABLE_TRACING", false),
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		errs = append(errs, err)
		return d
	}
	integer := func(key string, def int) int {
		n, err := getEnvInt(key, def)
		errs = append(errs, err)
		return n
	}

	cfg.RegistryRefreshInterval = duration("REGISTRY_REFRESH_INTERVAL", 300*time.Second)
	cfg.ExpirySweepInterval = duration("EXPIRY_SWEEP_INTERVAL", 3600*time.Second)
	cfg.RestartDelay = duration("TASK_RESTART_DELAY", 30*time.Second)
	cfg.AdminRefreshCooldown = duration("ADMIN_REFRESH_COOLDOWN", 30*time.Second)
	cfg.WebhookTimeout = duration("WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.WebhookWorkers = integer("WEBHOOK_WORKERS", 4)
	cfg.GlobalRateLimit = integer("GLOBAL_RATE_LIMIT", 60)
	cfg.AuthRateLimit = integer("AUTH_RATE_LIMIT", 5)
	cfg.RefreshRateLimit = integer("REGISTRY_REFRESH_RATE_LIMIT", 2)
	cfg.PostLimit = integer("BOUNTY_POST_LIMIT", 5)

	ratio, err := getEnvFloat("TRACE_SAMPLE_RATIO", 1.0)
	errs = append(errs, err)
	cfg.TraceSampleRatio = ratio

	// Parse log level
	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
