package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Contains(t, cfg.Scan.Exclude, "node_modules/**")
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /repo
storage:
  driver: bolt
  path: /tmp/lattice.bolt
cache:
  capacity: 500
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/repo", cfg.Root)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, 500, cfg.Cache.Capacity)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	// Untouched sections keep their defaults.
	assert.Contains(t, cfg.Scan.Exclude, "vendor/**")
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Storage.Driver, cfg.Storage.Driver)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Root = "/somewhere"
	cfg.Storage.Driver = "badger"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/somewhere", got.Root)
	assert.Equal(t, "badger", got.Storage.Driver)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("root: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
