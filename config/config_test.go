package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "tapir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
replace_threshold: 30
workers: 4
logging:
  level: debug
storage:
  path: /var/lib/tapir
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ReplaceThreshold)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "type", cfg.DiscriminatorField)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/tapir", cfg.Storage.Path)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, "replace_threshold: 30\n")
	t.Setenv("TAPIR_REPLACE_THRESHOLD", "75")
	t.Setenv("TAPIR_STORAGE_PATH", "/tmp/tapir")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.ReplaceThreshold)
	assert.Equal(t, "/tmp/tapir", cfg.Storage.Path)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "replace_threshold: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "workers: -1\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestYAML(t *testing.T) {
	data, err := Default().YAML()
	require.NoError(t, err)

	assert.Contains(t, string(data), "replace_threshold: 50\n")
	assert.Contains(t, string(data), "discriminator_field: type\n")
}
