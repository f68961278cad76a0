package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/taxscope/internal/config"
	"github.com/ledgerlens/taxscope/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Database at %s is at schema version %d.\n", cfg.DatabasePath, storage.ExpectedSchemaVersion)
			return nil
		},
	}
}
