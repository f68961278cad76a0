// Package alerts runs the secondary pass over persisted analysis results,
// turning compliance flags into durable review alerts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/storage"
)

// Store is the storage surface the generator needs.
type Store interface {
	GetFlaggedResults(ctx context.Context, tenant string, minSeverity model.FlagSeverity) ([]model.AnalysisResult, error)
	SaveAlerts(ctx context.Context, alerts []storage.Alert) error
}

// Generator materializes alerts from flagged results. It implements
// service.AlertGenerator; the orchestrator treats its failures as
// non-fatal.
type Generator struct {
	store       Store
	logger      *slog.Logger
	minSeverity model.FlagSeverity
}

// NewGenerator creates a generator that alerts on flags at or above
// minSeverity. An empty severity defaults to warning.
func NewGenerator(store Store, minSeverity model.FlagSeverity, logger *slog.Logger) *Generator {
	if minSeverity == "" {
		minSeverity = model.SeverityWarning
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:       store,
		minSeverity: minSeverity,
		logger:      logger.With("component", "alerts"),
	}
}

// GenerateAlerts flattens every qualifying flag on the tenant's results into
// a persisted alert keyed by (tenant, transaction, code). Regenerating is
// idempotent: existing alerts are replaced, not duplicated.
func (g *Generator) GenerateAlerts(ctx context.Context, tenant, runID string) error {
	results, err := g.store.GetFlaggedResults(ctx, tenant, g.minSeverity)
	if err != nil {
		return fmt.Errorf("loading flagged results for %s: %w", tenant, err)
	}

	var generated []storage.Alert
	for _, result := range results {
		for _, flag := range result.Flags {
			if !severityAtLeast(flag.Severity, g.minSeverity) {
				continue
			}
			generated = append(generated, storage.Alert{
				Tenant:        tenant,
				TransactionID: result.TransactionID,
				Code:          flag.Code,
				Severity:      flag.Severity,
				Detail:        flag.Detail,
				RunID:         runID,
			})
		}
	}

	if len(generated) == 0 {
		g.logger.Info("no alerts to generate", "tenant", tenant, "run_id", runID)
		return nil
	}

	if err := g.store.SaveAlerts(ctx, generated); err != nil {
		return fmt.Errorf("saving %d alerts for %s: %w", len(generated), tenant, err)
	}

	g.logger.Info("alerts generated",
		"tenant", tenant,
		"run_id", runID,
		"flagged_results", len(results),
		"alerts", len(generated))
	return nil
}

var severityOrder = map[model.FlagSeverity]int{
	model.SeverityInfo:     0,
	model.SeverityWarning:  1,
	model.SeverityCritical: 2,
}

func severityAtLeast(severity, minimum model.FlagSeverity) bool {
	return severityOrder[severity] >= severityOrder[minimum]
}
