package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erprx/datastore/pkg/storage"
)

var schemaVersionCmd = &cobra.Command{
	Use:   "schema-version",
	Short: "Print the schema version recorded in the config table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		backend, err := storage.OpenPostgresBackend(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		defer backend.Close()

		store, err := backend.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer store.Close(ctx)

		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		fmt.Printf("schema version: %d\n", version)
		return nil
	},
}
