package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.RedisCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, time.Hour, cfg.LedgerMaxPriceAge)
	assert.Equal(t, 100, cfg.HistoryDefaultLimit)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                  "9090",
		"DATABASE_URL":          "postgres://localhost/inheritx",
		"PRICE_CACHE_TTL":       "5s",
		"HISTORY_DEFAULT_LIMIT": "25",
		"ADMIN_JWT_SECRET":      " s3cret ",
		"LOG_LEVEL":             "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://localhost/inheritx", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 25, cfg.HistoryDefaultLimit)
	assert.Equal(t, "s3cret", cfg.AdminJWTSecret)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"PRICE_CACHE_TTL":       "soon",
		"REDIS_CACHE_TTL":       "-1s",
		"HISTORY_DEFAULT_LIMIT": "0",
		"LOG_LEVEL":             "chatty",
	}
	for key, val := range cases {
		_, err := FromEnv(env(map[string]string{key: val}))
		assert.Error(t, err, key)
	}
}
