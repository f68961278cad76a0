package main

import (
	"context"
	"fmt"

	"github.com/ledgerlens/taxscope/internal/config"
	"github.com/ledgerlens/taxscope/internal/storage"
)

// initStorage opens the database and brings the schema current.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}
