// Package config loads service configuration from the environment. A
// .env file in the working directory is read first when present; real
// environment variables always win.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	Port string

	// DatabaseURL selects the Postgres store. Empty means in-memory.
	DatabaseURL string

	// RedisURL enables the read-through cache in front of Postgres.
	RedisURL      string
	RedisCacheTTL time.Duration

	PriceCacheTTL       time.Duration
	HistoryDefaultLimit int

	// AdminJWTSecret signs admin tokens. Empty disables the admin routes.
	AdminJWTSecret string

	// LedgerMaxPriceAge is the freshness window used when simulating plan
	// confirmation off-ledger.
	LedgerMaxPriceAge time.Duration

	LogLevel slog.Level
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "err", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Unset or empty keys take
// their defaults; malformed values are an error.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:           get("PORT", "8080"),
		DatabaseURL:    get("DATABASE_URL", ""),
		RedisURL:       get("REDIS_URL", ""),
		AdminJWTSecret: get("ADMIN_JWT_SECRET", ""),
	}

	var err error
	if cfg.RedisCacheTTL, err = duration(get("REDIS_CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("REDIS_CACHE_TTL: %w", err)
	}
	if cfg.PriceCacheTTL, err = duration(get("PRICE_CACHE_TTL", "60s")); err != nil {
		return nil, fmt.Errorf("PRICE_CACHE_TTL: %w", err)
	}
	if cfg.LedgerMaxPriceAge, err = duration(get("LEDGER_MAX_PRICE_AGE", "1h")); err != nil {
		return nil, fmt.Errorf("LEDGER_MAX_PRICE_AGE: %w", err)
	}

	limit, err := strconv.Atoi(get("HISTORY_DEFAULT_LIMIT", "100"))
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("HISTORY_DEFAULT_LIMIT: must be a positive integer")
	}
	cfg.HistoryDefaultLimit = limit

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func duration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}
