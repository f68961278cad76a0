package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// SaveTransactions saves multiple transactions to the database. Duplicates
// (same tenant and hash) are ignored so re-imports are safe.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			tenant, id, platform, period, date, description,
			counterparty, account_code, amount, line_items, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}

		lineItemsJSON := ""
		if len(txn.LineItems) > 0 {
			data, marshalErr := json.Marshal(txn.LineItems)
			if marshalErr != nil {
				return fmt.Errorf("failed to marshal line items for %s: %w", txn.ID, marshalErr)
			}
			lineItemsJSON = string(data)
		}

		if _, err := stmt.ExecContext(ctx,
			txn.Tenant,
			txn.ID,
			string(txn.Platform),
			model.FinancialYear(txn.Date),
			txn.Date,
			txn.Description,
			txn.Counterparty,
			txn.AccountCode,
			txn.Amount.String(),
			lineItemsJSON,
			txn.Hash,
		); err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetTransactions retrieves transactions for a tenant/platform scope. An
// empty period matches all periods.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, tenant string, platform model.Platform, period string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant, id, platform, date, description,
			counterparty, account_code, amount, line_items, hash
		FROM transactions
		WHERE tenant = ? AND platform = ?`
	args := []any{tenant, string(platform)}

	if period != "" {
		query += ` AND period = ?`
		args = append(args, period)
	}
	query += ` ORDER BY date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		transactions = append(transactions, *txn)
	}

	return transactions, rows.Err()
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, tenant, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, id, platform, date, description,
			counterparty, account_code, amount, line_items, hash
		FROM transactions
		WHERE tenant = ? AND id = ?
	`, tenant, id)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", common.ErrNotFound, id)
	}
	return txn, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var platform, amount string
	var counterparty, accountCode, lineItems sql.NullString

	err := row.Scan(
		&txn.Tenant,
		&txn.ID,
		&platform,
		&txn.Date,
		&txn.Description,
		&counterparty,
		&accountCode,
		&amount,
		&lineItems,
		&txn.Hash,
	)
	if err != nil {
		return nil, err
	}

	txn.Platform = model.Platform(platform)
	txn.Counterparty = counterparty.String
	txn.AccountCode = accountCode.String

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount for %s: %w", txn.ID, err)
	}

	if lineItems.String != "" {
		if err := json.Unmarshal([]byte(lineItems.String), &txn.LineItems); err != nil {
			return nil, fmt.Errorf("failed to parse line items for %s: %w", txn.ID, err)
		}
	}

	return &txn, nil
}
