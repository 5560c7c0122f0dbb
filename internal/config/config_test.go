package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadServer()
	require.ErrorIs(t, err, ErrMissing)

	t.Setenv("DB_DSN", "postgres://chat@localhost/chat")
	_, err = LoadServer()
	require.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://chat@localhost/chat")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADDR", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("SYNC_BACKOFF", "50ms")
	t.Setenv("SYNC_MAX_BACKOFF", "")
	t.Setenv("CONTACT_GATE", "true")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Backoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.True(t, cfg.RequireContact)
}

func TestLoadClientRejectsGarbage(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := LoadClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}
