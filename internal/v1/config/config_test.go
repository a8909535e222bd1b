package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "9000")
}

func TestValidateEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 300*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 50, cfg.HistoryReplay)
	assert.False(t, cfg.RequirePrivatePassword)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidateEnv_MissingPort(t *testing.T) {
	t.Setenv("PORT", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a valid port number")
}

func TestValidateEnv_IdleTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("IDLE_TIMEOUT_SECONDS", "0")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout, "zero disables the sweeper")

	t.Setenv("IDLE_TIMEOUT_SECONDS", "-5")
	_, err = ValidateEnv()
	assert.Error(t, err)

	t.Setenv("IDLE_TIMEOUT_SECONDS", "nope")
	_, err = ValidateEnv()
	assert.Error(t, err)
}

func TestValidateEnv_HistoryReplay(t *testing.T) {
	setRequired(t)
	t.Setenv("HISTORY_REPLAY", "10")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.HistoryReplay)

	t.Setenv("HISTORY_REPLAY", "-1")
	_, err = ValidateEnv()
	assert.Error(t, err)
}

func TestValidateEnv_RedisConditional(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_ENABLED", "true")

	// Missing addr falls back to the local default.
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_PASSWORD", "pw")
	cfg, err = ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "pw", cfg.RedisPassword)

	t.Setenv("REDIS_ADDR", "not-a-hostport")
	_, err = ValidateEnv()
	assert.Error(t, err)
}

func TestValidateEnv_CollectsAllErrors(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HTTP_PORT", "0")
	t.Setenv("HISTORY_REPLAY", "x")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
	assert.Contains(t, err.Error(), "HTTP_PORT must be a valid port number")
	assert.Contains(t, err.Error(), "HISTORY_REPLAY must be a non-negative integer")
}

func TestIsValidHostPort(t *testing.T) {
	assert.True(t, isValidHostPort("localhost:6379"))
	assert.False(t, isValidHostPort("localhost"))
	assert.False(t, isValidHostPort(":6379"))
	assert.False(t, isValidHostPort("host:notaport"))
	assert.False(t, isValidHostPort("host:0"))
}
