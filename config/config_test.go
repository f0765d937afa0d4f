package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rxtrust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingDefaultFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "localhost:8000", cfg.Address())
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("RXTRUST_TEST_POSTHOG", "phc_secret")
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
cache:
  ttl: 6h
registry:
  dataset_path: /srv/nsq.json
  watch: true
audit_log:
  batch_size: 5
  batch_interval: 2s
telemetry:
  enabled: true
  posthog_key: "{{env:RXTRUST_TEST_POSTHOG}}"
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Address())
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "/srv/nsq.json", cfg.Registry.DatasetPath)
	assert.True(t, cfg.Registry.Watch)
	assert.Equal(t, 5, cfg.AuditLog.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.AuditLog.BatchInterval)
	assert.True(t, cfg.AuditLog.Enabled, "unset keys keep their defaults")
	assert.Equal(t, "./rxtrust.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "phc_secret", cfg.Telemetry.PosthogKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RXTRUST_PORT", "8123")
	t.Setenv("RXTRUST_DB_PATH", "/tmp/override.db")
	t.Setenv("RXTRUST_REGISTRY_PATH", "/tmp/nsq.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "/tmp/nsq.json", cfg.Registry.DatasetPath)

	t.Setenv("RXTRUST_PORT", "not-a-port")
	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "server: [",
		"port too high": "server:\n  port: 70000\n",
		"zero ttl":      "cache:\n  ttl: 0s\n",
		"empty db path": "storage:\n  database_path: \"\"\n",
		"unresolved":    "telemetry:\n  posthog_key: \"{{env:RXTRUST_DEFINITELY_UNSET_VAR}}\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), true)
			assert.Error(t, err)
		})
	}
}
