package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestReadConfigOverrides(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, `{
		"log_level": "debug",
		"relay_port": 9999,
		"relay_url": "ws://relay.example:9999/ws",
		"nats_url": "nats://broker:4222",
		"redis_url": "redis://localhost:6379/0",
		"heartbeat_interval": "1s",
		"heartbeat_timeout": "3s"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.RelayPort)
	assert.Equal(t, "ws://relay.example:9999/ws", cfg.RelayURL)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatTimeout)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
