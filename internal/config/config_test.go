package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("STORAGE_MAX_UPLOAD_BYTES", "")
	t.Setenv("AUTH_BOOTSTRAP_ADMIN_NAME", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, "portal:notifications", cfg.Notification.QueueKey)
	assert.Equal(t, "Administrator", cfg.Auth.BootstrapAdminName)
	assert.Equal(t, 256, cfg.Notification.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.Notification.EnqueueTimeout())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("NOTIFY_WORKER_ENABLED", "false")
	t.Setenv("NOTIFY_ENQUEUE_TIMEOUT_SECONDS", "2")
	t.Setenv("POSTGRES_MAX_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.Notification.WorkerEnabled)
	assert.Equal(t, 2*time.Second, cfg.Notification.EnqueueTimeout())
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")

	_, err := Load()
	require.Error(t, err)
}
