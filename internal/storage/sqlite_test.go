package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTransaction(id string, date time.Time) model.Transaction {
	return model.Transaction{
		ID:           id,
		Tenant:       "tenant-a",
		Platform:     model.PlatformXero,
		Date:         date,
		Description:  "Office supplies " + id,
		Counterparty: "Officeworks",
		AccountCode:  "6-2100",
		Amount:       decimal.NewFromFloat(42.50),
	}
}

func testResult(id string) model.AnalysisResult {
	return model.AnalysisResult{
		TransactionID: id,
		Tenant:        "tenant-a",
		Platform:      model.PlatformXero,
		AnalyzedAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Categories: []model.CategoryLabel{
			{Name: "Office Expenses", Confidence: 0.92},
		},
		Eligibility: map[string]model.Criterion{
			model.CriterionOrdinaryExpense: {Met: true, Confidence: 0.9, Evidence: []string{"stationery purchase"}},
		},
		Deduction: model.Deduction{
			Claimable: true,
			Amount:    decimal.NewFromFloat(42.50),
			Reasoning: "ordinary business expense",
		},
		Usage: model.TokenUsage{InputTokens: 800, OutputTokens: 300},
	}
}

func TestSaveAndGetTransactions(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	txns := []model.Transaction{
		testTransaction("txn-1", time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)),
		testTransaction("txn-2", time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)),
		testTransaction("txn-3", time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, store.SaveTransactions(ctx, txns))

	t.Run("filters by financial year", func(t *testing.T) {
		// FY2025 runs 1 July 2024 to 30 June 2025.
		got, err := store.GetTransactions(ctx, "tenant-a", model.PlatformXero, "FY2025")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "txn-1", got[0].ID)
		assert.Equal(t, "txn-2", got[1].ID)
	})

	t.Run("empty period matches all", func(t *testing.T) {
		got, err := store.GetTransactions(ctx, "tenant-a", model.PlatformXero, "")
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("reimport is idempotent", func(t *testing.T) {
		require.NoError(t, store.SaveTransactions(ctx, txns))
		got, err := store.GetTransactions(ctx, "tenant-a", model.PlatformXero, "")
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("round-trips fields", func(t *testing.T) {
		got, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
		require.NoError(t, err)
		assert.Equal(t, "Officeworks", got.Counterparty)
		assert.Equal(t, "6-2100", got.AccountCode)
		assert.True(t, got.Amount.Equal(decimal.NewFromFloat(42.50)))
		assert.NotEmpty(t, got.Hash)
	})
}

func TestUpsertResults(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, store.UpsertResults(ctx, nil))
	})

	t.Run("upsert replaces rather than duplicates", func(t *testing.T) {
		first := testResult("txn-1")
		require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{first}))

		second := testResult("txn-1")
		second.Categories[0].Name = "Stationery"
		require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{second}))

		count, err := store.CountAnalyzed(ctx, "tenant-a", model.PlatformXero)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := store.GetResult(ctx, "tenant-a", "txn-1")
		require.NoError(t, err)
		assert.Equal(t, "Stationery", got.Categories[0].Name)
	})

	t.Run("duplicate IDs within a batch keep the last occurrence", func(t *testing.T) {
		first := testResult("txn-dup")
		first.Deduction.Reasoning = "first"
		last := testResult("txn-dup")
		last.Deduction.Reasoning = "last"

		require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{first, last}))

		got, err := store.GetResult(ctx, "tenant-a", "txn-dup")
		require.NoError(t, err)
		assert.Equal(t, "last", got.Deduction.Reasoning)
	})

	t.Run("round-trips the full result", func(t *testing.T) {
		result := testResult("txn-full")
		result.Flags = []model.ComplianceFlag{
			{Code: "missing_receipt", Severity: model.SeverityWarning, Detail: "no documentation attached"},
		}
		require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{result}))

		got, err := store.GetResult(ctx, "tenant-a", "txn-full")
		require.NoError(t, err)
		assert.Equal(t, result.Categories, got.Categories)
		assert.Equal(t, result.Eligibility[model.CriterionOrdinaryExpense].Evidence,
			got.Eligibility[model.CriterionOrdinaryExpense].Evidence)
		assert.True(t, got.Deduction.Amount.Equal(result.Deduction.Amount))
		assert.Equal(t, result.Flags, got.Flags)
		assert.Equal(t, 800, got.Usage.InputTokens)
	})
}

func TestGetResults(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	other := testResult("txn-other")
	other.Tenant = "tenant-b"
	require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{
		testResult("txn-2"),
		testResult("txn-1"),
		other,
	}))

	t.Run("scoped by tenant and platform, ordered by ID", func(t *testing.T) {
		got, err := store.GetResults(ctx, "tenant-a", model.PlatformXero)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "txn-1", got[0].TransactionID)
		assert.Equal(t, "txn-2", got[1].TransactionID)
	})

	t.Run("empty scope returns nothing", func(t *testing.T) {
		got, err := store.GetResults(ctx, "tenant-a", model.PlatformMYOB)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAnalyzedIDs(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{
		testResult("txn-1"),
		testResult("txn-2"),
	}))

	t.Run("empty input short-circuits", func(t *testing.T) {
		got, err := store.AnalyzedIDs(ctx, "tenant-a", model.PlatformXero, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("returns only analyzed subset", func(t *testing.T) {
		got, err := store.AnalyzedIDs(ctx, "tenant-a", model.PlatformXero,
			[]string{"txn-1", "txn-2", "txn-3"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Contains(t, got, "txn-1")
		assert.Contains(t, got, "txn-2")
		assert.NotContains(t, got, "txn-3")
	})

	t.Run("scoped by tenant", func(t *testing.T) {
		got, err := store.AnalyzedIDs(ctx, "tenant-b", model.PlatformXero, []string{"txn-1"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("handles ID lists above the parameter ceiling", func(t *testing.T) {
		ids := make([]string, 0, maxSQLParams+50)
		for i := 0; i < maxSQLParams+50; i++ {
			ids = append(ids, "missing-id")
		}
		ids = append(ids, "txn-1")

		got, err := store.AnalyzedIDs(ctx, "tenant-a", model.PlatformXero, ids)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestCostLedger(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	perBatch := decimal.RequireFromString("1.50")

	// Sum after k batches of cost c must be exactly k×c.
	for k := 1; k <= 4; k++ {
		entry := &model.CostLedgerEntry{
			Tenant:       "tenant-a",
			RunID:        "run-1",
			BatchIndex:   k,
			InputTokens:  10000,
			OutputTokens: 4000,
			Cost:         perBatch,
		}
		require.NoError(t, store.RecordCost(ctx, entry))
		assert.NotZero(t, entry.ID)

		total, err := store.SumCost(ctx, "tenant-a")
		require.NoError(t, err)
		expected := perBatch.Mul(decimal.NewFromInt(int64(k)))
		assert.True(t, total.Equal(expected),
			"after batch %d expected %s, got %s", k, expected, total)
	}

	t.Run("scoped by tenant", func(t *testing.T) {
		total, err := store.SumCost(ctx, "tenant-b")
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	})

	t.Run("rejects negative cost", func(t *testing.T) {
		err := store.RecordCost(ctx, &model.CostLedgerEntry{
			Tenant: "tenant-a",
			RunID:  "run-1",
			Cost:   decimal.RequireFromString("-1"),
		})
		require.ErrorIs(t, err, ErrInvalidLedgerEntry)
	})
}

func TestCheckpoints(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	t.Run("absent checkpoint returns nil", func(t *testing.T) {
		got, err := store.ReadCheckpoint(ctx, "tenant-a", model.PlatformXero)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	progress := &model.RunProgress{
		RunID:                "run-1",
		Tenant:               "tenant-a",
		Platform:             model.PlatformXero,
		Status:               model.RunAnalyzing,
		TotalTransactions:    237,
		CachedTransactions:   40,
		TransactionsAnalyzed: 50,
		CurrentBatch:         1,
		TotalBatches:         4,
		BatchSize:            50,
		AccumulatedCost:      decimal.RequireFromString("1.50"),
	}
	require.NoError(t, store.WriteCheckpoint(ctx, progress))

	t.Run("round-trips and derives percent", func(t *testing.T) {
		got, err := store.ReadCheckpoint(ctx, "tenant-a", model.PlatformXero)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 50, got.TransactionsAnalyzed)
		assert.Equal(t, 4, got.TotalBatches)
		assert.True(t, got.AccumulatedCost.Equal(decimal.RequireFromString("1.50")))
		assert.InDelta(t, 37.97, got.PercentComplete, 0.01)
	})

	t.Run("rewrite replaces the previous checkpoint", func(t *testing.T) {
		progress.TransactionsAnalyzed = 100
		progress.CurrentBatch = 2
		require.NoError(t, store.WriteCheckpoint(ctx, progress))

		got, err := store.ReadCheckpoint(ctx, "tenant-a", model.PlatformXero)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 100, got.TransactionsAnalyzed)
	})
}

func TestRuns(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	eta := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &model.AnalysisRun{
		ID:                   "run-1",
		Tenant:               "tenant-a",
		Platform:             model.PlatformXero,
		Period:               "FY2025",
		Status:               model.RunAnalyzing,
		TotalTransactions:    237,
		CachedTransactions:   40,
		TransactionsAnalyzed: 50,
		CurrentBatch:         1,
		TotalBatches:         4,
		BatchSize:            50,
		AccumulatedCost:      decimal.RequireFromString("1.50"),
		ETA:                  &eta,
		StartedAt:            time.Now(),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	t.Run("round-trips", func(t *testing.T) {
		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunAnalyzing, got.Status)
		assert.Equal(t, "FY2025", got.Period)
		require.NotNil(t, got.ETA)
		assert.True(t, got.ETA.Equal(eta))
	})

	t.Run("save is an upsert", func(t *testing.T) {
		run.Status = model.RunComplete
		run.ETA = nil
		require.NoError(t, store.SaveRun(ctx, run))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunComplete, got.Status)
		assert.Nil(t, got.ETA)
	})

	t.Run("rejects analyzed above total", func(t *testing.T) {
		bad := *run
		bad.TransactionsAnalyzed = bad.TotalTransactions + 1
		require.ErrorIs(t, store.SaveRun(ctx, &bad), ErrInvalidRun)
	})

	t.Run("terminal status cannot change", func(t *testing.T) {
		reopened := *run
		reopened.Status = model.RunAnalyzing
		require.ErrorIs(t, store.SaveRun(ctx, &reopened), common.ErrRunTerminal)

		// Re-saving the same terminal status stays legal.
		require.NoError(t, store.SaveRun(ctx, run))
	})
}

func TestAlertsAndSummary(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	flagged := testResult("txn-flagged")
	flagged.Flags = []model.ComplianceFlag{
		{Code: "missing_receipt", Severity: model.SeverityWarning, Detail: "no documentation"},
		{Code: "private_use", Severity: model.SeverityCritical, Detail: "personal expense claimed"},
	}
	require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{flagged, testResult("txn-clean")}))

	t.Run("flagged results filter by severity", func(t *testing.T) {
		got, err := store.GetFlaggedResults(ctx, "tenant-a", model.SeverityCritical)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "txn-flagged", got[0].TransactionID)
	})

	require.NoError(t, store.SaveAlerts(ctx, []Alert{
		{Tenant: "tenant-a", TransactionID: "txn-flagged", Code: "private_use",
			Severity: model.SeverityCritical, Detail: "personal expense claimed", RunID: "run-1"},
	}))

	t.Run("summary is computed and cached", func(t *testing.T) {
		summary, err := store.GetTenantSummary(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, 2, summary.ResultsPersisted)
		assert.Equal(t, 1, summary.AlertsBySeverity[model.SeverityCritical])
	})

	t.Run("invalidation forces recompute", func(t *testing.T) {
		stale, err := store.GetTenantSummary(ctx, "tenant-a")
		require.NoError(t, err)

		require.NoError(t, store.UpsertResults(ctx, []model.AnalysisResult{testResult("txn-new")}))

		cached, err := store.GetTenantSummary(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, stale.ResultsPersisted, cached.ResultsPersisted)

		require.NoError(t, store.InvalidateDerivedCaches(ctx, "tenant-a"))

		fresh, err := store.GetTenantSummary(ctx, "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, 3, fresh.ResultsPersisted)
	})
}
