package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.Leader.Model)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
leader:
  base_url: http://localhost:8080/v1
  model: local-large
  api_key_env: LOCAL_KEY
worker:
  base_url: http://localhost:8080/v1
  model: local-small
  api_key_env: LOCAL_KEY
max_parallel: 5
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local-large", cfg.Leader.Model)
	assert.Equal(t, "local-small", cfg.Worker.Model)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_RejectsBadParallelism(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel: 9\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "steward.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/steward-data"
	require.NoError(t, Save(path, cfg))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/steward-data", again.DataDir)
}

func TestModelConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("STEWARD_TEST_KEY", "sk-123")
	m := ModelConfig{APIKeyEnv: "STEWARD_TEST_KEY"}
	key, err := m.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-123", key)

	m.APIKeyEnv = "STEWARD_TEST_KEY_MISSING"
	_, err = m.APIKey()
	require.Error(t, err)
}

func TestServersPath_DefaultsUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "servers.json"), cfg.ServersPath())

	cfg.ServersFile = "/etc/steward/servers.json"
	assert.Equal(t, "/etc/steward/servers.json", cfg.ServersPath())
}
