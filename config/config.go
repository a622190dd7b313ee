package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	// Backing store. Backend selects which store/* package the ledger,
	// concurrency guard and DLQ manager are built on.
	Backend     string `env:"BACKEND" envDefault:"postgres" validate:"required,oneof=postgres sqlite"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=Backend postgres"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./spine.db" validate:"required_if=Backend sqlite"`
	RedisAddr   string `env:"REDIS_ADDR"`

	// Executor selects which internal/executor implementation a
	// dispatcher embedder (cmd/seed) runs handlers through; cmd/worker
	// and cmd/scheduler do not read it.
	Executor           string `env:"EXECUTOR" envDefault:"threadpool" validate:"required,oneof=memory threadpool cooperative processpool broker"`
	ProcessPoolRunnerBin string `env:"PROCESS_POOL_RUNNER_BIN" envDefault:"./bin/runner"`

	WorkerCount         int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=500"`
	WorkerConcurrency   int `env:"WORKER_CONCURRENCY" envDefault:"10" validate:"min=1,max=1000"`
	PollIntervalSec     int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	HeartbeatIntervalSec int `env:"HEARTBEAT_INTERVAL_SEC" envDefault:"10" validate:"min=1,max=300"`
	ClaimBatchSize      int `env:"CLAIM_BATCH_SIZE" envDefault:"20" validate:"min=1,max=1000"`

	// Scheduler
	SchedulerTickIntervalSec int `env:"SCHEDULER_TICK_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=300"`
	SchedulerLockTTLSec      int `env:"SCHEDULER_LOCK_TTL_SEC" envDefault:"30" validate:"min=1,max=600"`
	MisfireGraceSec          int `env:"MISFIRE_GRACE_SEC" envDefault:"60" validate:"min=0,max=3600"`

	// Concurrency guard defaults
	LockDefaultTTLSec int `env:"LOCK_DEFAULT_TTL_SEC" envDefault:"300" validate:"min=1,max=86400"`

	// Resilience defaults
	RetryMaxAttempts     int     `env:"RETRY_MAX_ATTEMPTS" envDefault:"3" validate:"min=0,max=50"`
	RetryBaseDelayMs     int     `env:"RETRY_BASE_DELAY_MS" envDefault:"500" validate:"min=1"`
	CircuitBreakerMaxReqs uint32 `env:"CIRCUIT_BREAKER_MAX_REQUESTS" envDefault:"5" validate:"min=1"`
	CircuitBreakerOpenSec int    `env:"CIRCUIT_BREAKER_OPEN_SEC" envDefault:"30" validate:"min=1,max=3600"`
	RateLimitRPS         float64 `env:"RATE_LIMIT_RPS" envDefault:"50" validate:"min=0"`
	RateLimitBurst       int     `env:"RATE_LIMIT_BURST" envDefault:"100" validate:"min=1"`

	// DLQ
	DLQRetentionDays int `env:"DLQ_RETENTION_DAYS" envDefault:"30" validate:"min=1,max=3650"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// Notifier (DLQ / health alerts); empty ResendAPIKey falls back to a
	// log-only notifier.
	ResendAPIKey string `env:"RESEND_API_KEY"`
	ResendFrom   string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	AlertTo      string `env:"ALERT_TO"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
