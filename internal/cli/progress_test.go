package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ledgerlens/taxscope/internal/model"
)

func snapshot(batch, analyzed int) model.RunProgress {
	return model.RunProgress{
		RunID:                "run-1",
		Tenant:               "tenant-a",
		Platform:             model.PlatformXero,
		Status:               model.RunAnalyzing,
		TotalTransactions:    100,
		TransactionsAnalyzed: analyzed,
		CurrentBatch:         batch,
		TotalBatches:         2,
		BatchSize:            50,
		PercentComplete:      float64(analyzed),
		AccumulatedCost:      decimal.RequireFromString("1.50"),
	}
}

func TestProgressReporterRenders(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewProgressReporter(&buf)

	reporter.Observe(snapshot(1, 50))
	reporter.Observe(snapshot(2, 100))
	reporter.Close()

	out := buf.String()
	assert.Contains(t, out, "Batch")
	assert.Contains(t, out, "1.50")
}

func TestProgressReporterNeverBlocks(t *testing.T) {
	// A reporter whose loop has finished cannot drain the channel; Observe
	// must still return promptly once the buffer fills.
	var buf bytes.Buffer
	reporter := NewProgressReporter(&buf)
	reporter.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			reporter.Observe(snapshot(1, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked the caller")
	}
}

func TestPrintRunSummary(t *testing.T) {
	var buf bytes.Buffer
	run := &model.AnalysisRun{
		ID:                   "run-7",
		Tenant:               "tenant-a",
		Platform:             model.PlatformXero,
		Period:               "FY2025",
		Status:               model.RunError,
		ErrorMessage:         "budget exceeded",
		TotalTransactions:    200,
		TransactionsAnalyzed: 150,
		CurrentBatch:         3,
		AccumulatedCost:      decimal.RequireFromString("4.50"),
		StartedAt:            time.Now().Add(-time.Minute),
		UpdatedAt:            time.Now(),
	}

	PrintRunSummary(&buf, run)

	out := buf.String()
	assert.True(t, strings.Contains(out, "run-7"))
	assert.Contains(t, out, "budget exceeded")
	assert.Contains(t, out, "4.5000")
}

func TestPrintProgressNilCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	PrintProgress(&buf, nil)
	assert.Contains(t, buf.String(), "No checkpoint")
}
