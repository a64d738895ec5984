package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Engine.ID)
	assert.Equal(t, 60, cfg.Engine.DefaultTimeoutMinutes)
	assert.Equal(t, "localhost:6379", cfg.Bus.Addr)
}

func TestLoad_fileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convergenced.toml")
	contents := `
[engine]
id = "engine-fixed"
workers = 4

[db]
dsn = "postgres://db/convergence"

[bus]
addr = "redis:6379"
prefix = "test"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine-fixed", cfg.Engine.ID)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "postgres://db/convergence", cfg.DB.DSN)
	assert.Equal(t, "redis:6379", cfg.Bus.Addr)
	assert.Equal(t, "test", cfg.Bus.Prefix)
}

func TestLoad_envOverridesFile(t *testing.T) {
	t.Setenv("CONVERGENCE_ENGINE_ID", "engine-from-env")
	t.Setenv("CONVERGENCE_BUS_ADDR", "envredis:6379")

	dir := t.TempDir()
	path := filepath.Join(dir, "convergenced.toml")
	contents := `
[engine]
id = "engine-from-file"

[bus]
addr = "fileredis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine-from-env", cfg.Engine.ID)
	assert.Equal(t, "envredis:6379", cfg.Bus.Addr)
}
