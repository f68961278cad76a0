package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// SaveRun upserts the full run record. Complete and Error are terminal: an
// attempt to move a persisted run out of either is rejected.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *model.AnalysisRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM analysis_runs WHERE id = ?`, run.ID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: failed to check run status: %w", common.ErrPersistence, err)
	}
	if err == nil && model.RunStatus(existing).Terminal() && model.RunStatus(existing) != run.Status {
		return fmt.Errorf("%w: run %s is %s", common.ErrRunTerminal, run.ID, existing)
	}

	run.UpdatedAt = time.Now()

	var eta any
	if run.ETA != nil {
		eta = *run.ETA
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, tenant, platform, period, status, error_message,
			total_transactions, cached_transactions, transactions_analyzed,
			current_batch, total_batches, batch_size,
			accumulated_cost, eta, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			total_transactions = excluded.total_transactions,
			cached_transactions = excluded.cached_transactions,
			transactions_analyzed = excluded.transactions_analyzed,
			current_batch = excluded.current_batch,
			total_batches = excluded.total_batches,
			batch_size = excluded.batch_size,
			accumulated_cost = excluded.accumulated_cost,
			eta = excluded.eta,
			updated_at = excluded.updated_at
	`,
		run.ID,
		run.Tenant,
		string(run.Platform),
		run.Period,
		string(run.Status),
		run.ErrorMessage,
		run.TotalTransactions,
		run.CachedTransactions,
		run.TransactionsAnalyzed,
		run.CurrentBatch,
		run.TotalBatches,
		run.BatchSize,
		run.AccumulatedCost.String(),
		eta,
		run.StartedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save run: %w", common.ErrPersistence, err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*model.AnalysisRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant, platform, period, status, error_message,
			total_transactions, cached_transactions, transactions_analyzed,
			current_batch, total_batches, batch_size,
			accumulated_cost, eta, started_at, updated_at
		FROM analysis_runs WHERE id = ?
	`, id)

	var run model.AnalysisRun
	var platform, status, cost string
	var errorMessage sql.NullString
	var eta sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Tenant,
		&platform,
		&run.Period,
		&status,
		&errorMessage,
		&run.TotalTransactions,
		&run.CachedTransactions,
		&run.TransactionsAnalyzed,
		&run.CurrentBatch,
		&run.TotalBatches,
		&run.BatchSize,
		&cost,
		&eta,
		&run.StartedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load run: %w", common.ErrPersistence, err)
	}

	run.Platform = model.Platform(platform)
	run.Status = model.RunStatus(status)
	run.ErrorMessage = errorMessage.String
	if eta.Valid {
		run.ETA = &eta.Time
	}

	run.AccumulatedCost, err = decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("failed to parse accumulated cost %q: %w", cost, err)
	}

	return &run, nil
}

// WriteCheckpoint persists the run progress snapshot for its tenant/platform
// scope, replacing any previous checkpoint.
func (s *SQLiteStorage) WriteCheckpoint(ctx context.Context, progress *model.RunProgress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if progress == nil {
		return fmt.Errorf("%w: progress", ErrNilParameter)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (
			tenant, platform, run_id, status,
			total_transactions, cached_transactions, transactions_analyzed,
			current_batch, total_batches, batch_size,
			accumulated_cost, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, platform) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			total_transactions = excluded.total_transactions,
			cached_transactions = excluded.cached_transactions,
			transactions_analyzed = excluded.transactions_analyzed,
			current_batch = excluded.current_batch,
			total_batches = excluded.total_batches,
			batch_size = excluded.batch_size,
			accumulated_cost = excluded.accumulated_cost,
			updated_at = excluded.updated_at
	`,
		progress.Tenant,
		string(progress.Platform),
		progress.RunID,
		string(progress.Status),
		progress.TotalTransactions,
		progress.CachedTransactions,
		progress.TransactionsAnalyzed,
		progress.CurrentBatch,
		progress.TotalBatches,
		progress.BatchSize,
		progress.AccumulatedCost.String(),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to write checkpoint: %w", common.ErrPersistence, err)
	}

	return nil
}

// ReadCheckpoint returns the last persisted checkpoint for a tenant/platform
// scope, or nil when none exists.
func (s *SQLiteStorage) ReadCheckpoint(ctx context.Context, tenant string, platform model.Platform) (*model.RunProgress, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status,
			total_transactions, cached_transactions, transactions_analyzed,
			current_batch, total_batches, batch_size, accumulated_cost
		FROM checkpoints
		WHERE tenant = ? AND platform = ?
	`, tenant, string(platform))

	var progress model.RunProgress
	var status, cost string

	err := row.Scan(
		&progress.RunID,
		&status,
		&progress.TotalTransactions,
		&progress.CachedTransactions,
		&progress.TransactionsAnalyzed,
		&progress.CurrentBatch,
		&progress.TotalBatches,
		&progress.BatchSize,
		&cost,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint: %w", common.ErrPersistence, err)
	}

	progress.Tenant = tenant
	progress.Platform = platform
	progress.Status = model.RunStatus(status)

	progress.AccumulatedCost, err = decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint cost %q: %w", cost, err)
	}

	if progress.TotalTransactions > 0 {
		done := progress.CachedTransactions + progress.TransactionsAnalyzed
		progress.PercentComplete = float64(done) / float64(progress.TotalTransactions) * 100
	}

	return &progress, nil
}

// InvalidateDerivedCaches drops cached derived data for a tenant. Called
// when a run completes so downstream reports recompute from fresh results.
func (s *SQLiteStorage) InvalidateDerivedCaches(ctx context.Context, tenant string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_summaries WHERE tenant = ?`, tenant)
	if err != nil {
		return fmt.Errorf("%w: failed to invalidate derived caches: %w", common.ErrPersistence, err)
	}
	return nil
}
