package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					tenant TEXT NOT NULL,
					id TEXT NOT NULL,
					platform TEXT NOT NULL,
					period TEXT NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					counterparty TEXT,
					account_code TEXT,
					amount TEXT NOT NULL,
					line_items TEXT,
					hash TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant, id)
				)`,
				`CREATE UNIQUE INDEX idx_transactions_hash ON transactions(tenant, hash)`,
				`CREATE INDEX idx_transactions_scope ON transactions(tenant, platform, period)`,

				`CREATE TABLE IF NOT EXISTS analysis_results (
					tenant TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					platform TEXT NOT NULL,
					analyzed_at DATETIME NOT NULL,
					categories TEXT NOT NULL,
					eligibility TEXT NOT NULL,
					deduction TEXT NOT NULL,
					flags TEXT,
					input_tokens INTEGER DEFAULT 0,
					output_tokens INTEGER DEFAULT 0,
					PRIMARY KEY (tenant, transaction_id)
				)`,
				`CREATE INDEX idx_results_scope ON analysis_results(tenant, platform)`,

				`CREATE TABLE IF NOT EXISTS cost_ledger (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant TEXT NOT NULL,
					run_id TEXT NOT NULL,
					batch_index INTEGER NOT NULL,
					input_tokens INTEGER DEFAULT 0,
					output_tokens INTEGER DEFAULT 0,
					cost_usd TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_cost_ledger_tenant ON cost_ledger(tenant)`,

				`CREATE TABLE IF NOT EXISTS analysis_runs (
					id TEXT PRIMARY KEY,
					tenant TEXT NOT NULL,
					platform TEXT NOT NULL,
					period TEXT NOT NULL,
					status TEXT NOT NULL,
					error_message TEXT,
					total_transactions INTEGER DEFAULT 0,
					cached_transactions INTEGER DEFAULT 0,
					transactions_analyzed INTEGER DEFAULT 0,
					current_batch INTEGER DEFAULT 0,
					total_batches INTEGER DEFAULT 0,
					batch_size INTEGER DEFAULT 0,
					accumulated_cost TEXT NOT NULL DEFAULT '0',
					eta DATETIME,
					started_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_runs_scope ON analysis_runs(tenant, platform)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add run checkpoints keyed by tenant and platform",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS checkpoints (
					tenant TEXT NOT NULL,
					platform TEXT NOT NULL,
					run_id TEXT NOT NULL,
					status TEXT NOT NULL,
					total_transactions INTEGER DEFAULT 0,
					cached_transactions INTEGER DEFAULT 0,
					transactions_analyzed INTEGER DEFAULT 0,
					current_batch INTEGER DEFAULT 0,
					total_batches INTEGER DEFAULT 0,
					batch_size INTEGER DEFAULT 0,
					accumulated_cost TEXT NOT NULL DEFAULT '0',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant, platform)
				)
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Add compliance alerts and derived tenant summaries",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS alerts (
					tenant TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					code TEXT NOT NULL,
					severity TEXT NOT NULL,
					detail TEXT,
					run_id TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant, transaction_id, code)
				)`,
				`CREATE INDEX idx_alerts_severity ON alerts(tenant, severity)`,

				`CREATE TABLE IF NOT EXISTS tenant_summaries (
					tenant TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= ExpectedSchemaVersion {
		slog.Debug("database schema up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		// PRAGMA does not support placeholders
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
