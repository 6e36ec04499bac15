package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erprx/datastore/pkg/storage"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Verify the storage backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		backend, err := storage.OpenPostgresBackend(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			fmt.Println("unhealthy: cannot open backend")
			return err
		}
		defer backend.Close()

		store, err := backend.Begin(ctx)
		if err != nil {
			fmt.Println("unhealthy: cannot begin transaction")
			return err
		}
		defer store.Close(ctx)

		if err := store.Healthcheck(ctx); err != nil {
			fmt.Println("unhealthy")
			return err
		}
		fmt.Println("healthy")
		return nil
	},
}
