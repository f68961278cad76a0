package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerlens/taxscope/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidResult      = errors.New("invalid analysis result")
	ErrInvalidLedgerEntry = errors.New("invalid cost ledger entry")
	ErrInvalidRun         = errors.New("invalid analysis run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Tenant == "" {
		return fmt.Errorf("%w: missing tenant", ErrInvalidTransaction)
	}
	if txn.Platform == "" {
		return fmt.Errorf("%w: missing platform", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	return nil
}

func validateResult(result *model.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if result.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidResult)
	}
	if result.Tenant == "" {
		return fmt.Errorf("%w: missing tenant", ErrInvalidResult)
	}
	return nil
}

func validateLedgerEntry(entry *model.CostLedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.Tenant == "" {
		return fmt.Errorf("%w: missing tenant", ErrInvalidLedgerEntry)
	}
	if entry.RunID == "" {
		return fmt.Errorf("%w: missing run ID", ErrInvalidLedgerEntry)
	}
	if entry.Cost.IsNegative() {
		return fmt.Errorf("%w: negative cost", ErrInvalidLedgerEntry)
	}
	return nil
}

func validateRun(run *model.AnalysisRun) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.Tenant == "" {
		return fmt.Errorf("%w: missing tenant", ErrInvalidRun)
	}
	switch run.Status {
	case model.RunIdle, model.RunAnalyzing, model.RunComplete, model.RunError:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidRun, run.Status)
	}
	if run.TransactionsAnalyzed > run.TotalTransactions {
		return fmt.Errorf("%w: analyzed %d exceeds total %d",
			ErrInvalidRun, run.TransactionsAnalyzed, run.TotalTransactions)
	}
	return nil
}
