package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/service"
)

// BudgetGuard decides whether projected spend fits inside a tenant's budget.
// Recorded ledger entries are the authority on spend; projections passed in
// by the caller are estimates.
type BudgetGuard struct {
	store  service.Storage
	logger *slog.Logger
	config service.BudgetConfig
}

// NewBudgetGuard creates a guard over the cost ledger.
func NewBudgetGuard(store service.Storage, config service.BudgetConfig, logger *slog.Logger) *BudgetGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetGuard{
		store:  store,
		config: config,
		logger: logger.With("component", "budget_guard"),
	}
}

// Check sums the tenant's recorded spend, adds the estimated additional
// cost, and compares against the ceiling. A ledger read failure fails open:
// analysis proceeds rather than blocking on a storage hiccup, and the
// failure is logged.
func (g *BudgetGuard) Check(ctx context.Context, tenant string, additionalCost decimal.Decimal) service.BudgetDecision {
	spent, err := g.store.SumCost(ctx, tenant)
	if err != nil {
		g.logger.Warn("cost ledger unavailable, allowing run to proceed",
			"tenant", tenant,
			"error", err)
		return service.BudgetDecision{
			Projected: additionalCost,
			Remaining: g.config.MaxCostUSD,
			Allowed:   true,
		}
	}

	projected := spent.Add(additionalCost)
	remaining := g.config.MaxCostUSD.Sub(spent)

	decision := service.BudgetDecision{
		Spent:     spent,
		Projected: projected,
		Remaining: remaining,
		Allowed:   true,
	}

	if g.config.MaxCostUSD.IsPositive() {
		warnCeiling := g.config.MaxCostUSD.Mul(decimal.NewFromFloat(g.config.WarnThresholdPercent / 100))
		if g.config.WarnThresholdPercent > 0 && projected.GreaterThanOrEqual(warnCeiling) {
			decision.WarnThreshold = true
		}

		if projected.GreaterThan(g.config.MaxCostUSD) {
			// Enforcement is separate from tracking: without hard stop the
			// overrun is reported but the run continues.
			decision.WarnThreshold = true
			if g.config.HardStopEnabled {
				decision.Allowed = false
			}
		}
	}

	if decision.WarnThreshold {
		g.logger.Warn("budget threshold crossed",
			"tenant", tenant,
			"spent", spent.StringFixed(4),
			"projected", projected.StringFixed(4),
			"ceiling", g.config.MaxCostUSD.StringFixed(2),
			"allowed", decision.Allowed)
	}

	return decision
}
