package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaults()
	err := cfg.applyEnv(envMap(map[string]string{
		"HTTP_ADDR":                       ":9000",
		"STORE_DRIVER":                    "Redis",
		"REDIS_URL":                       "redis://localhost:6379/1",
		"SESSION_TTL":                     "48h",
		"PRESENCE_IDLE_TIMEOUT":           "45",
		"SESSION_CACHE_SIZE":              "10",
		"PRESENCE_BROADCAST_ON_HEARTBEAT": "true",
		"ALLOWED_ORIGINS":                 "example.com, *.example.org ,",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, DriverRedis, cfg.StoreDriver)
	assert.Equal(t, 48*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 45*time.Second, cfg.PresenceIdleTimeout)
	assert.Equal(t, 10, cfg.SessionCacheSize)
	assert.True(t, cfg.PresenceBroadcastOnHeartbeat)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"SESSION_TTL": "soon"})))

	cfg = defaults()
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"WS_SEND_BUFFER": "-1"})))
}

func TestValidateDriverRequirements(t *testing.T) {
	cfg := defaults()
	cfg.StoreDriver = DriverPostgres
	assert.EqualError(t, cfg.Validate(), "DATABASE_URL is required for postgres store")

	cfg.StoreDriver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg.StoreDriver = DriverMemory
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chess.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":7000\"\nstore_driver: memory\nws_send_buffer: 8\n"), 0o644))

	t.Setenv("CHESS_CONFIG_FILE", path)
	t.Setenv("WS_SEND_BUFFER", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 16, cfg.WSSendBuffer)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
}
