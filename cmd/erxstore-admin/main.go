// Command erxstore-admin is the operator CLI for the E-Rezept encrypted
// data-layer core: schema-version checks, storage healthchecks, and
// blob-usage queries against the Postgres backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erprx/datastore/pkg/config"
	"github.com/erprx/datastore/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile string
	cfg     = config.Default()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "erxstore-admin",
	Short:   "erxstore-admin - operator tooling for the E-Rezept encrypted data layer",
	Long:    `erxstore-admin inspects and maintains an erxstore Postgres backend: schema version, healthcheck, and blob-usage queries.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("erxstore-admin version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cfg.BindFlags(rootCmd.PersistentFlags())

	cobra.OnInitialize(initConfigAndLogging)

	rootCmd.AddCommand(schemaVersionCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(blobUsageCmd)
}

// initConfigAndLogging runs after cobra has already parsed flags into cfg
// (BindFlags bound each flag straight to a cfg field, so by this point cfg
// holds either the flag's value or Default()'s). If --config names a file,
// its values are applied on top, but only for fields whose flag was not
// explicitly passed — an explicit flag always wins over the file.
func initConfigAndLogging() {
	if cfgFile == "" {
		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
		return
	}

	fileCfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	flags := rootCmd.PersistentFlags()
	if !flags.Changed("postgres-dsn") {
		cfg.Postgres.DSN = fileCfg.Postgres.DSN
	}
	if !flags.Changed("postgres-max-open-conns") {
		cfg.Postgres.MaxOpenConns = fileCfg.Postgres.MaxOpenConns
	}
	if !flags.Changed("log-level") {
		cfg.Log.Level = fileCfg.Log.Level
	}
	if !flags.Changed("log-json") {
		cfg.Log.JSON = fileCfg.Log.JSON
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
}
