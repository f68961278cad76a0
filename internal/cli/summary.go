package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/ledgerlens/taxscope/internal/model"
)

// PrintRunSummary writes a human-readable wrap-up for a finished run.
func PrintRunSummary(w io.Writer, run *model.AnalysisRun) {
	fmt.Fprintf(w, "\nRun %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(w, "  Tenant:       %s (%s, %s)\n", run.Tenant, run.Platform, run.Period)
	fmt.Fprintf(w, "  Candidates:   %d\n", run.TotalTransactions)
	fmt.Fprintf(w, "  From cache:   %d\n", run.CachedTransactions)
	fmt.Fprintf(w, "  Analyzed:     %d in %d batches\n", run.TransactionsAnalyzed, run.CurrentBatch)
	fmt.Fprintf(w, "  Cost:         $%s USD\n", run.AccumulatedCost.StringFixed(4))
	fmt.Fprintf(w, "  Duration:     %s\n", run.UpdatedAt.Sub(run.StartedAt).Round(time.Second))

	if run.Status == model.RunError {
		fmt.Fprintf(w, "  Error:        %s\n", run.ErrorMessage)
	}
}

// PrintProgress writes a single checkpoint snapshot, used by the status
// command.
func PrintProgress(w io.Writer, progress *model.RunProgress) {
	if progress == nil {
		fmt.Fprintln(w, "No checkpoint recorded.")
		return
	}

	fmt.Fprintf(w, "Run %s (%s)\n", progress.RunID, progress.Status)
	fmt.Fprintf(w, "  Progress:     %.2f%% (%d cached + %d analyzed of %d)\n",
		progress.PercentComplete,
		progress.CachedTransactions,
		progress.TransactionsAnalyzed,
		progress.TotalTransactions)
	fmt.Fprintf(w, "  Batch:        %d/%d (size %d)\n",
		progress.CurrentBatch, progress.TotalBatches, progress.BatchSize)
	fmt.Fprintf(w, "  Cost:         $%s USD\n", progress.AccumulatedCost.StringFixed(4))
	if progress.ETA != nil {
		fmt.Fprintf(w, "  ETA:          %s\n", progress.ETA.Local().Format(time.RFC822))
	}
}
