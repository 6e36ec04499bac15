// Package config loads erxstore-admin's configuration from an optional
// YAML file plus command-line flags, the flags always winning over the
// file, the way cmd/warren/main.go layers cobra persistent flags over
// defaults before cobra.OnInitialize runs.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// PostgresConfig describes the C4 storage backend connection.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// LogConfig mirrors pkg/log.Config's two knobs that are worth exposing
// to an operator at the CLI.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is erxstore-admin's full configuration surface.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the configuration used when no file and no flags
// override it.
func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{
			DSN:          "postgres://localhost:5432/erxstore",
			MaxOpenConns: 10,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load starts from Default and overlays path's YAML contents, if path is
// non-empty. A missing file is an error; an empty path is not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers the persistent flags erxstore-admin's root command
// exposes, each defaulting to the already-loaded config's current value.
func (c *Config) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Postgres.DSN, "postgres-dsn", c.Postgres.DSN, "Postgres connection string")
	flags.IntVar(&c.Postgres.MaxOpenConns, "postgres-max-open-conns", c.Postgres.MaxOpenConns, "maximum open Postgres connections")
	flags.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level (debug, info, warn, error)")
	flags.BoolVar(&c.Log.JSON, "log-json", c.Log.JSON, "output logs in JSON format")
}
