package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/config"
)

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
	assert.Error(t, validateFormat(""))
}

func TestLoadConfigOverrides(t *testing.T) {
	flagDriver = "bolt"
	flagDBPath = "/tmp/x.bolt"
	defer func() { flagDriver, flagDBPath = "", "" }()

	cfg, err := loadConfig([]string{"/repo"})
	require.NoError(t, err)
	assert.Equal(t, "/repo", cfg.Root)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/x.bolt", cfg.Storage.Path)
}

func TestInitWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.yaml")

	err := initCmd.RunE(initCmd, []string{path})
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)

	err = initCmd.RunE(initCmd, []string{path})
	assert.Error(t, err, "refuses to overwrite an existing file")
}
