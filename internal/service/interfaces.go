// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactions(ctx context.Context, tenant string, platform model.Platform, period string) ([]model.Transaction, error)
	GetTransactionByID(ctx context.Context, tenant, id string) (*model.Transaction, error)

	// Analysis result operations. UpsertResults is keyed by
	// (tenant, transaction_id): re-running an analysis never duplicates rows.
	UpsertResults(ctx context.Context, results []model.AnalysisResult) error
	AnalyzedIDs(ctx context.Context, tenant string, platform model.Platform, ids []string) (map[string]struct{}, error)
	CountAnalyzed(ctx context.Context, tenant string, platform model.Platform) (int, error)
	GetResult(ctx context.Context, tenant, transactionID string) (*model.AnalysisResult, error)
	GetResults(ctx context.Context, tenant string, platform model.Platform) ([]model.AnalysisResult, error)
	GetFlaggedResults(ctx context.Context, tenant string, minSeverity model.FlagSeverity) ([]model.AnalysisResult, error)

	// Cost ledger operations. The ledger is append-only.
	RecordCost(ctx context.Context, entry *model.CostLedgerEntry) error
	SumCost(ctx context.Context, tenant string) (decimal.Decimal, error)

	// Run and checkpoint operations
	SaveRun(ctx context.Context, run *model.AnalysisRun) error
	GetRun(ctx context.Context, id string) (*model.AnalysisRun, error)
	ReadCheckpoint(ctx context.Context, tenant string, platform model.Platform) (*model.RunProgress, error)
	WriteCheckpoint(ctx context.Context, progress *model.RunProgress) error

	// Derived data
	InvalidateDerivedCaches(ctx context.Context, tenant string) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// TransactionSource supplies candidate transactions for analysis. It returns
// a finite, complete list; the orchestrator performs its own batching.
type TransactionSource interface {
	FetchCandidates(ctx context.Context, tenant string, platform model.Platform, period string) ([]model.Transaction, error)
}

// Classifier is the external analysis boundary. Implementations signal
// rate-limit-shaped failures with a retryable tagged error and everything
// else with a permanent one.
type Classifier interface {
	Classify(ctx context.Context, txn model.Transaction, businessContext string) (*model.AnalysisResult, error)
	Close() error
}

// ProgressObserver receives a snapshot after every batch. Implementations
// must never block the orchestrator.
type ProgressObserver interface {
	Observe(progress model.RunProgress)
}

// AlertGenerator runs a secondary pass over persisted results once a run
// completes. Failures are logged, never fatal to the run.
type AlertGenerator interface {
	GenerateAlerts(ctx context.Context, tenant, runID string) error
}

// CostEstimator projects the spend for analyzing a number of transactions
// before any remote calls are made. Estimates are rough; recorded ledger
// entries are authoritative.
type CostEstimator interface {
	EstimateCost(transactionCount int) decimal.Decimal
}

// CostCalculator prices actual token usage after a call completes. This is
// the figure that lands in the cost ledger.
type CostCalculator interface {
	CostOf(usage model.TokenUsage) decimal.Decimal
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// BudgetConfig bounds the spend for a tenant. Cost tracking and cost
// enforcement are independently configurable: with HardStopEnabled false the
// guard reports warnings but always permits proceeding.
type BudgetConfig struct {
	MaxCostUSD           decimal.Decimal
	WarnThresholdPercent float64
	HardStopEnabled      bool
}

// BudgetDecision is the guard's verdict for a projected additional cost.
type BudgetDecision struct {
	Spent         decimal.Decimal
	Projected     decimal.Decimal
	Remaining     decimal.Decimal
	Allowed       bool
	WarnThreshold bool
}
