package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/config"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erxstore.yaml")
	yamlBody := "postgres:\n  dsn: postgres://db.internal:5432/erx\n  max_open_conns: 25\nlog:\n  level: debug\n  json: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/erx", cfg.Postgres.DSN)
	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestBindFlagsFlagOverridesDefaultValue(t *testing.T) {
	cfg := config.Default()
	flags := pflag.NewFlagSet("erxstore-admin", pflag.ContinueOnError)
	cfg.BindFlags(flags)

	require.NoError(t, flags.Parse([]string{"--postgres-dsn=postgres://override:5432/erx"}))
	assert.Equal(t, "postgres://override:5432/erx", cfg.Postgres.DSN)
	assert.Equal(t, config.Default().Log.Level, cfg.Log.Level)
}
