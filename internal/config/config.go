package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Every pipeline constant the sweeps and
// guards depend on is tunable here rather than compiled in.
type Config struct {
	DatabaseDSN             string
	RabbitMQURL             string
	RedisURL                string
	FirebaseCredentialsPath string
	APIPort                 int
	LogLevel                string
	WorkerConcurrency       int
	RateLimitPerSec         int
	DuplicateWindow         time.Duration
	TokenWaitExpiry         time.Duration
	RetentionPeriod         time.Duration
	TokenBackfillInterval   time.Duration
	RetentionInterval       time.Duration
	TokenCleanupInterval    time.Duration
	SweepScanLimit          int
	DebugRecipientIDs       []string
	DebugToken              string
	MessageTitle            string
}

type rawConfig struct {
	DatabaseDSN             string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL             string `env:"RABBITMQ_URL,required=true"`
	RedisURL                string `env:"REDIS_URL,required=true"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH,required=true"`
	APIPort                 int    `env:"API_PORT,default=8080"`
	LogLevel                string `env:"LOG_LEVEL,default=info"`
	WorkerConcurrency       int    `env:"WORKER_CONCURRENCY,default=8"`
	RateLimitPerSec         int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	DuplicateWindow         string `env:"DUPLICATE_WINDOW,default=5s"`
	TokenWaitExpiry         string `env:"TOKEN_WAIT_EXPIRY,default=24h"`
	RetentionPeriod         string `env:"RETENTION_PERIOD,default=720h"`
	TokenBackfillInterval   string `env:"TOKEN_BACKFILL_INTERVAL,default=15m"`
	RetentionInterval       string `env:"RETENTION_INTERVAL,default=24h"`
	TokenCleanupInterval    string `env:"TOKEN_CLEANUP_INTERVAL,default=24h"`
	SweepScanLimit          int    `env:"SWEEP_SCAN_LIMIT,default=500"`
	DebugRecipients         string `env:"DEBUG_RECIPIENTS,default="`
	DebugToken              string `env:"DEBUG_TOKEN,default="`
	MessageTitle            string `env:"MESSAGE_TITLE,default=Marifactor"`
}

// Load reads configuration from the environment, with an optional local
// .env file layered underneath.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var raw rawConfig
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:             raw.DatabaseDSN,
		RabbitMQURL:             raw.RabbitMQURL,
		RedisURL:                raw.RedisURL,
		FirebaseCredentialsPath: raw.FirebaseCredentialsPath,
		APIPort:                 raw.APIPort,
		LogLevel:                raw.LogLevel,
		WorkerConcurrency:       raw.WorkerConcurrency,
		RateLimitPerSec:         raw.RateLimitPerSec,
		SweepScanLimit:          raw.SweepScanLimit,
		DebugRecipientIDs:       splitList(raw.DebugRecipients),
		DebugToken:              strings.TrimSpace(raw.DebugToken),
		MessageTitle:            raw.MessageTitle,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"DUPLICATE_WINDOW", raw.DuplicateWindow, &cfg.DuplicateWindow},
		{"TOKEN_WAIT_EXPIRY", raw.TokenWaitExpiry, &cfg.TokenWaitExpiry},
		{"RETENTION_PERIOD", raw.RetentionPeriod, &cfg.RetentionPeriod},
		{"TOKEN_BACKFILL_INTERVAL", raw.TokenBackfillInterval, &cfg.TokenBackfillInterval},
		{"RETENTION_INTERVAL", raw.RetentionInterval, &cfg.RetentionInterval},
		{"TOKEN_CLEANUP_INTERVAL", raw.TokenCleanupInterval, &cfg.TokenCleanupInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("invalid %s %q: must be positive", d.name, d.value)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
