package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// RecordCost appends an entry to the cost ledger. Entries are never updated
// or deleted.
func (s *SQLiteStorage) RecordCost(ctx context.Context, entry *model.CostLedgerEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerEntry(entry); err != nil {
		return err
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (
			tenant, run_id, batch_index, input_tokens, output_tokens, cost_usd, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Tenant,
		entry.RunID,
		entry.BatchIndex,
		entry.InputTokens,
		entry.OutputTokens,
		entry.Cost.String(),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record cost: %w", common.ErrPersistence, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		entry.ID = id
	}
	return nil
}

// SumCost totals all ledger entries for a tenant.
func (s *SQLiteStorage) SumCost(ctx context.Context, tenant string) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return decimal.Zero, err
	}

	// Sum in Go rather than SQL so decimal precision is preserved.
	rows, err := s.db.QueryContext(ctx, `
		SELECT cost_usd FROM cost_ledger WHERE tenant = ?
	`, tenant)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to query cost ledger: %w", common.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var cost string
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, fmt.Errorf("%w: failed to scan ledger entry: %w", common.ErrPersistence, err)
		}
		value, parseErr := decimal.NewFromString(cost)
		if parseErr != nil {
			return decimal.Zero, fmt.Errorf("failed to parse ledger cost %q: %w", cost, parseErr)
		}
		total = total.Add(value)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: cost ledger iteration: %w", common.ErrPersistence, err)
	}

	return total, nil
}
