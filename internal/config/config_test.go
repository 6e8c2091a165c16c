package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, "messenger.notifications", cfg.AMQPExchange)
	assert.Equal(t, 10*time.Second, cfg.AuthGrace)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.PresenceTTL)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SWEEP_INTERVAL", "5s")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}
