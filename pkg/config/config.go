// Package config loads daemon configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	LogLevel string

	// Approval store. DatabaseURL selects Postgres; otherwise the daemon
	// falls back to the embedded SQLite file at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Brake flag store. Empty RedisAddr selects the in-memory store
	// (single-node development only).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Notifications. Empty NATSURL means brake events go over Redis
	// pub/sub when Redis is configured, otherwise nowhere.
	NATSURL string

	// Gating behavior.
	ActionRegistryPath string
	ApprovalTTL        time.Duration
	BrakeGracePeriod   time.Duration
	SweepInterval      time.Duration
	WorkerPoolSize     int

	// Telemetry.
	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables with defaults
// suitable for local development.
func Load() *Config {
	cfg := &Config{
		LogLevel:           getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getenv("SQLITE_PATH", "reins.db"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		NATSURL:            os.Getenv("NATS_URL"),
		ActionRegistryPath: getenv("ACTION_REGISTRY", "actions.yaml"),
		ApprovalTTL:        getduration("APPROVAL_TTL", 48*time.Hour),
		BrakeGracePeriod:   getduration("BRAKE_GRACE_PERIOD", 30*time.Second),
		SweepInterval:      getduration("SWEEP_INTERVAL", time.Minute),
		WorkerPoolSize:     getint("WORKER_POOL_SIZE", 8),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:   os.Getenv("TELEMETRY_ENABLED") == "true",
	}
	cfg.RedisDB = getint("REDIS_DB", 0)
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
