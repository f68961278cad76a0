// Package engine implements the batch analysis pipeline: result caching,
// budget enforcement, batch-size tuning, and the orchestrator that drives a
// run from candidate fetch through persisted results.
package engine

import (
	"context"
	"log/slog"

	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/service"
)

// ResultCache answers which candidate transactions already have persisted
// results. A lookup failure degrades to "nothing cached": redundant analysis
// costs money, but a false cache hit would silently drop a transaction from
// the audit forever.
type ResultCache struct {
	store  service.Storage
	logger *slog.Logger
}

// NewResultCache creates a cache backed by the result store.
func NewResultCache(store service.Storage, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		store:  store,
		logger: logger.With("component", "result_cache"),
	}
}

// AnalyzedSet returns the subset of candidate IDs already analyzed for the
// tenant/platform scope. An empty candidate list short-circuits.
func (c *ResultCache) AnalyzedSet(ctx context.Context, tenant string, platform model.Platform, ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return map[string]struct{}{}
	}

	analyzed, err := c.store.AnalyzedIDs(ctx, tenant, platform, ids)
	if err != nil {
		c.logger.Warn("cache lookup failed, treating all candidates as unanalyzed",
			"tenant", tenant,
			"platform", platform,
			"candidates", len(ids),
			"error", err)
		return map[string]struct{}{}
	}

	return analyzed
}
