package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus tracks the lifecycle of an analysis run.
type RunStatus string

// Run status constants. Complete and Error are terminal.
const (
	RunIdle      RunStatus = "idle"
	RunAnalyzing RunStatus = "analyzing"
	RunComplete  RunStatus = "complete"
	RunError     RunStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunError
}

// AnalysisRun is one execution of the pipeline for a tenant/platform/period.
// It is persisted after every batch so a new process can resume it.
type AnalysisRun struct {
	StartedAt            time.Time
	UpdatedAt            time.Time
	ETA                  *time.Time
	ID                   string
	Tenant               string
	Platform             Platform
	Period               string
	Status               RunStatus
	ErrorMessage         string
	AccumulatedCost      decimal.Decimal
	TotalTransactions    int
	CachedTransactions   int
	TransactionsAnalyzed int
	CurrentBatch         int
	TotalBatches         int
	BatchSize            int
}

// Progress produces the observer snapshot for the run's current state.
func (r *AnalysisRun) Progress() RunProgress {
	done := r.CachedTransactions + r.TransactionsAnalyzed
	percent := 0.0
	if r.TotalTransactions > 0 {
		percent = float64(done) / float64(r.TotalTransactions) * 100
	}
	return RunProgress{
		RunID:                r.ID,
		Tenant:               r.Tenant,
		Platform:             r.Platform,
		Status:               r.Status,
		TotalTransactions:    r.TotalTransactions,
		CachedTransactions:   r.CachedTransactions,
		TransactionsAnalyzed: r.TransactionsAnalyzed,
		CurrentBatch:         r.CurrentBatch,
		TotalBatches:         r.TotalBatches,
		BatchSize:            r.BatchSize,
		PercentComplete:      percent,
		AccumulatedCost:      r.AccumulatedCost,
		ETA:                  r.ETA,
	}
}

// RunProgress is the checkpoint and observer snapshot for a run.
type RunProgress struct {
	ETA                  *time.Time
	RunID                string
	Tenant               string
	Platform             Platform
	Status               RunStatus
	AccumulatedCost      decimal.Decimal
	TotalTransactions    int
	CachedTransactions   int
	TransactionsAnalyzed int
	CurrentBatch         int
	TotalBatches         int
	BatchSize            int
	PercentComplete      float64
}

// CostLedgerEntry is an immutable record of spend attributed to one batch.
type CostLedgerEntry struct {
	CreatedAt    time.Time
	Tenant       string
	RunID        string
	Cost         decimal.Decimal
	ID           int64
	BatchIndex   int
	InputTokens  int
	OutputTokens int
}
