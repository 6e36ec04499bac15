package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erprx/datastore/pkg/hsm"
	"github.com/erprx/datastore/pkg/storage"
)

var purposeNames = map[string]hsm.Purpose{
	"task":               hsm.PurposeTask,
	"medicationDispense": hsm.PurposeMedicationDispense,
	"auditEvent":         hsm.PurposeAuditEvent,
	"communication":      hsm.PurposeCommunication,
	"chargeItem":         hsm.PurposeChargeItem,
}

var blobUsageCmd = &cobra.Command{
	Use:   "blob-usage <purpose> <blob-id>",
	Short: "Check whether a key generation is still referenced by any row",
	Long: `blob-usage scans every table carrying a *_blob_id column and reports
whether blob-id still appears, the way the HSM needs to know before it may
retire a generation. The purpose narrows only the account-salt rows; task,
communication, audit and charge-item rows match on blob-id alone.

Valid purposes: task, medicationDispense, auditEvent, communication, chargeItem.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, ok := purposeNames[args[0]]
		if !ok {
			return fmt.Errorf("unknown purpose %q", args[0])
		}
		var blobID int32
		if _, err := fmt.Sscanf(args[1], "%d", &blobID); err != nil {
			return fmt.Errorf("invalid blob-id %q: %w", args[1], err)
		}

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

		used, err := store.IsBlobUsed(ctx, purpose, hsm.BlobID(blobID))
		if err != nil {
			return fmt.Errorf("check blob usage: %w", err)
		}
		if used {
			fmt.Printf("blob %d (%s) is in use\n", blobID, args[0])
		} else {
			fmt.Printf("blob %d (%s) is unused\n", blobID, args[0])
		}
		return nil
	},
}
