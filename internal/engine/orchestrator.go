package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/metrics"
	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/service"
)

// Config controls one orchestrator's run behavior.
type Config struct {
	BusinessContext   string
	Budget            service.BudgetConfig
	BatchSize         int
	MinBatchSize      int
	MaxBatchSize      int
	RateLimit         int
	TargetUtilization float64
	TuneAfterBatches  int
	UseCaching        bool
	AllowResume       bool
	AutoTuneBatchSize bool
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 5
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.BatchSize < c.MinBatchSize {
		c.BatchSize = c.MinBatchSize
	}
	if c.BatchSize > c.MaxBatchSize {
		c.BatchSize = c.MaxBatchSize
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 50
	}
	if c.TuneAfterBatches <= 0 {
		c.TuneAfterBatches = 3
	}
}

// Orchestrator drives a full analysis pass: fetch candidates, filter the
// already-analyzed, enforce budget, classify in batches, and checkpoint
// after every batch so a crash loses at most one batch of work.
type Orchestrator struct {
	store      service.Storage
	source     service.TransactionSource
	classifier service.Classifier
	estimator  service.CostEstimator
	calculator service.CostCalculator
	cache      *ResultCache
	guard      *BudgetGuard
	perf       *PerformanceTracker
	observer   service.ProgressObserver
	alerts     service.AlertGenerator
	logger     *slog.Logger
	config     Config
}

// Deps bundles the orchestrator's collaborators. Observer and Alerts are
// optional.
type Deps struct {
	Store      service.Storage
	Source     service.TransactionSource
	Classifier service.Classifier
	Estimator  service.CostEstimator
	Calculator service.CostCalculator
	Observer   service.ProgressObserver
	Alerts     service.AlertGenerator
	Logger     *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, config Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("transaction source is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if deps.Estimator == nil {
		return nil, fmt.Errorf("cost estimator is required")
	}
	if deps.Calculator == nil {
		return nil, fmt.Errorf("cost calculator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	config.applyDefaults()

	return &Orchestrator{
		store:      deps.Store,
		source:     deps.Source,
		classifier: deps.Classifier,
		estimator:  deps.Estimator,
		calculator: deps.Calculator,
		cache:      NewResultCache(deps.Store, logger),
		guard:      NewBudgetGuard(deps.Store, config.Budget, logger),
		perf:       NewPerformanceTracker(config.RateLimit, config.MinBatchSize, config.MaxBatchSize, config.TargetUtilization),
		observer:   deps.Observer,
		alerts:     deps.Alerts,
		logger:     logger,
		config:     config,
	}, nil
}

// Run executes one full analysis pass for a tenant/platform/period. The
// returned run carries the terminal status; the error is non-nil when that
// status is Error.
func (o *Orchestrator) Run(ctx context.Context, tenant string, platform model.Platform, period string) (*model.AnalysisRun, error) {
	now := time.Now().UTC()
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		Platform:  platform,
		Period:    period,
		Status:    model.RunIdle,
		BatchSize: o.config.BatchSize,
		StartedAt: now,
		UpdatedAt: now,
	}

	if o.config.AllowResume {
		checkpoint, err := o.store.ReadCheckpoint(ctx, tenant, platform)
		if err != nil {
			o.logger.Warn("checkpoint read failed, starting fresh", "tenant", tenant, "error", err)
		} else if checkpoint != nil {
			o.logger.Info("resuming from checkpoint",
				"tenant", tenant,
				"previous_run", checkpoint.RunID,
				"previously_analyzed", checkpoint.TransactionsAnalyzed,
				"percent_complete", fmt.Sprintf("%.2f", checkpoint.PercentComplete))
		}
	}

	candidates, err := o.source.FetchCandidates(ctx, tenant, platform, period)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("fetching candidates: %w", err))
	}

	run.TotalTransactions = len(candidates)

	// Resume correctness derives from persisted results, not the checkpoint
	// row, so resuming forces the cache filter even when caching is off.
	queue := candidates
	if o.config.UseCaching || o.config.AllowResume {
		queue = o.filterCached(ctx, run, candidates)
	}

	if len(queue) == 0 {
		o.logger.Info("nothing to analyze, all candidates cached",
			"tenant", tenant,
			"candidates", len(candidates))
		return o.complete(ctx, run)
	}

	estimate := o.estimator.EstimateCost(len(queue))
	decision := o.guard.Check(ctx, tenant, estimate)
	if !decision.Allowed {
		return o.fail(ctx, run, fmt.Errorf("%w: projected %s USD exceeds ceiling %s USD before any calls",
			common.ErrBudgetExceeded,
			decision.Projected.StringFixed(4),
			o.config.Budget.MaxCostUSD.StringFixed(2)))
	}

	run.Status = model.RunAnalyzing
	run.TotalBatches = totalBatches(len(queue), run.BatchSize)
	if err := o.store.SaveRun(ctx, run); err != nil {
		return o.fail(ctx, run, fmt.Errorf("saving run: %w", err))
	}

	o.logger.Info("starting analysis",
		"run_id", run.ID,
		"tenant", tenant,
		"platform", platform,
		"period", period,
		"candidates", len(candidates),
		"cached", run.CachedTransactions,
		"queue", len(queue),
		"batch_size", run.BatchSize,
		"estimated_cost", estimate.StringFixed(4))

	if err := o.processQueue(ctx, run, queue); err != nil {
		return o.fail(ctx, run, err)
	}

	return o.complete(ctx, run)
}

// filterCached splits off candidates that already have persisted results.
func (o *Orchestrator) filterCached(ctx context.Context, run *model.AnalysisRun, candidates []model.Transaction) []model.Transaction {
	ids := make([]string, len(candidates))
	for i, txn := range candidates {
		ids[i] = txn.ID
	}

	analyzed := o.cache.AnalyzedSet(ctx, run.Tenant, run.Platform, ids)
	run.CachedTransactions = len(analyzed)

	queue := make([]model.Transaction, 0, len(candidates)-len(analyzed))
	for _, txn := range candidates {
		if _, ok := analyzed[txn.ID]; !ok {
			queue = append(queue, txn)
		}
	}
	return queue
}

// processQueue walks the work queue batch by batch. Cancellation is checked
// at batch boundaries only; every blocking call inside a batch is itself
// context-aware.
func (o *Orchestrator) processQueue(ctx context.Context, run *model.AnalysisRun, queue []model.Transaction) error {
	var lastBatchCost decimal.Decimal
	cursor := 0

	for cursor < len(queue) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}

		if o.config.AutoTuneBatchSize && run.CurrentBatch >= o.config.TuneAfterBatches {
			suggested := o.perf.SuggestBatchSize()
			if suggested != run.BatchSize {
				o.logger.Info("retuning batch size",
					"run_id", run.ID,
					"batch", run.CurrentBatch+1,
					"old_size", run.BatchSize,
					"new_size", suggested,
					"avg_item_time", o.perf.AvgItemTime().String(),
					"success_rate", fmt.Sprintf("%.2f", o.perf.SuccessRate()))
				run.BatchSize = suggested
				run.TotalBatches = run.CurrentBatch + totalBatches(len(queue)-cursor, run.BatchSize)
			}
		}

		end := cursor + run.BatchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[cursor:end]
		run.CurrentBatch++

		batchStart := time.Now()
		results, classifyErr := o.classifyBatch(ctx, run, batch)
		o.perf.RecordBatch(len(batch), time.Since(batchStart), classifyErr != nil)

		// Whatever was classified before a failure is still persisted:
		// partial progress is never discarded.
		if len(results) > 0 {
			if err := o.store.UpsertResults(ctx, results); err != nil {
				return fmt.Errorf("persisting batch %d: %w", run.CurrentBatch, err)
			}
			run.TransactionsAnalyzed += len(results)
			lastBatchCost = o.recordBatchCost(ctx, run, results)
			metrics.BatchesProcessed.WithLabelValues(run.Tenant, string(run.Platform)).Inc()
			metrics.TransactionsAnalyzed.WithLabelValues(run.Tenant, string(run.Platform)).Add(float64(len(results)))
		}

		if classifyErr != nil {
			o.checkpoint(ctx, run, queue)
			return classifyErr
		}

		cursor = end

		if cursor < len(queue) {
			nextCost := o.projectNextBatch(lastBatchCost, len(queue)-cursor, run.BatchSize)
			decision := o.guard.Check(ctx, run.Tenant, nextCost)
			if !decision.Allowed {
				o.checkpoint(ctx, run, queue)
				return fmt.Errorf("%w: %s USD spent, next batch projected to reach %s USD against ceiling %s USD",
					common.ErrBudgetExceeded,
					decision.Spent.StringFixed(4),
					decision.Projected.StringFixed(4),
					o.config.Budget.MaxCostUSD.StringFixed(2))
			}
		}

		o.checkpoint(ctx, run, queue)
	}

	return nil
}

// classifyBatch analyzes each transaction in order. On failure it returns
// the results gathered so far along with the error; the caller persists them
// before aborting the run.
func (o *Orchestrator) classifyBatch(ctx context.Context, run *model.AnalysisRun, batch []model.Transaction) ([]model.AnalysisResult, error) {
	results := make([]model.AnalysisResult, 0, len(batch))

	for _, txn := range batch {
		result, err := o.classifier.Classify(ctx, txn, o.config.BusinessContext)
		if err != nil {
			metrics.ClassifierCalls.WithLabelValues("error").Inc()
			return results, fmt.Errorf("batch %d: %w", run.CurrentBatch, err)
		}
		metrics.ClassifierCalls.WithLabelValues("success").Inc()
		results = append(results, *result)
	}

	return results, nil
}

// recordBatchCost prices the batch's actual token usage and appends it to
// the ledger. Ledger write failures are logged, not fatal: losing one cost
// record is preferable to discarding the batch's analysis.
func (o *Orchestrator) recordBatchCost(ctx context.Context, run *model.AnalysisRun, results []model.AnalysisResult) decimal.Decimal {
	var usage model.TokenUsage
	for _, r := range results {
		usage.InputTokens += r.Usage.InputTokens
		usage.OutputTokens += r.Usage.OutputTokens
	}

	cost := o.calculator.CostOf(usage)

	entry := &model.CostLedgerEntry{
		Tenant:       run.Tenant,
		RunID:        run.ID,
		BatchIndex:   run.CurrentBatch,
		Cost:         cost,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	if err := o.store.RecordCost(ctx, entry); err != nil {
		o.logger.Error("failed to record batch cost",
			"run_id", run.ID,
			"batch", run.CurrentBatch,
			"cost", cost.StringFixed(4),
			"error", err)
	}

	run.AccumulatedCost = run.AccumulatedCost.Add(cost)
	metrics.AccumulatedCost.WithLabelValues(run.Tenant).Set(mustFloat(run.AccumulatedCost))
	return cost
}

// projectNextBatch estimates the next batch's cost from the last batch's
// actual spend, scaled when the final batch is short. Before any actuals
// exist it falls back to the configured estimator.
func (o *Orchestrator) projectNextBatch(lastBatchCost decimal.Decimal, remaining, batchSize int) decimal.Decimal {
	nextCount := batchSize
	if remaining < nextCount {
		nextCount = remaining
	}

	if lastBatchCost.IsZero() {
		return o.estimator.EstimateCost(nextCount)
	}
	if nextCount == batchSize {
		return lastBatchCost
	}
	return lastBatchCost.Mul(decimal.NewFromInt(int64(nextCount))).
		Div(decimal.NewFromInt(int64(batchSize)))
}

// checkpoint persists run progress and notifies the observer. Failures are
// logged: a missed checkpoint costs at most one batch of redundant work on
// resume.
func (o *Orchestrator) checkpoint(ctx context.Context, run *model.AnalysisRun, queue []model.Transaction) {
	run.UpdatedAt = time.Now().UTC()
	run.ETA = EstimateETA(run.TransactionsAnalyzed, len(queue), run.StartedAt, run.UpdatedAt)

	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Error("failed to save run progress", "run_id", run.ID, "error", err)
	}

	progress := run.Progress()
	if err := o.store.WriteCheckpoint(ctx, &progress); err != nil {
		o.logger.Error("failed to write checkpoint", "run_id", run.ID, "error", err)
	}

	metrics.RunProgress.WithLabelValues(run.Tenant, string(run.Platform)).Set(progress.PercentComplete)

	if o.observer != nil {
		o.observer.Observe(progress)
	}
}

// complete transitions the run to its successful terminal state, invalidates
// derived caches, and triggers the alert pass. Failures in either follow-up
// are logged but never flip the run back to Error.
func (o *Orchestrator) complete(ctx context.Context, run *model.AnalysisRun) (*model.AnalysisRun, error) {
	run.Status = model.RunComplete
	run.UpdatedAt = time.Now().UTC()
	run.ETA = nil

	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Error("failed to save completed run", "run_id", run.ID, "error", err)
	}

	progress := run.Progress()
	if err := o.store.WriteCheckpoint(ctx, &progress); err != nil {
		o.logger.Error("failed to write final checkpoint", "run_id", run.ID, "error", err)
	}
	if o.observer != nil {
		o.observer.Observe(progress)
	}

	if err := o.store.InvalidateDerivedCaches(ctx, run.Tenant); err != nil {
		o.logger.Error("failed to invalidate derived caches", "tenant", run.Tenant, "error", err)
	}

	if o.alerts != nil {
		if err := o.alerts.GenerateAlerts(ctx, run.Tenant, run.ID); err != nil {
			o.logger.Error("alert generation failed", "run_id", run.ID, "error", err)
		}
	}

	metrics.RunsCompleted.WithLabelValues(string(model.RunComplete)).Inc()
	o.logger.Info("run complete",
		"run_id", run.ID,
		"tenant", run.Tenant,
		"analyzed", run.TransactionsAnalyzed,
		"cached", run.CachedTransactions,
		"batches", run.CurrentBatch,
		"cost", run.AccumulatedCost.StringFixed(4))

	return run, nil
}

// fail transitions the run to its error terminal state and persists it.
func (o *Orchestrator) fail(ctx context.Context, run *model.AnalysisRun, cause error) (*model.AnalysisRun, error) {
	run.Status = model.RunError
	run.ErrorMessage = cause.Error()
	run.UpdatedAt = time.Now().UTC()
	run.ETA = nil

	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Error("failed to save errored run", "run_id", run.ID, "error", err)
	}
	if o.observer != nil {
		progress := run.Progress()
		o.observer.Observe(progress)
	}

	metrics.RunsCompleted.WithLabelValues(string(model.RunError)).Inc()
	o.logger.Error("run failed",
		"run_id", run.ID,
		"tenant", run.Tenant,
		"analyzed", run.TransactionsAnalyzed,
		"batches", run.CurrentBatch,
		"error", cause)

	return run, cause
}

func totalBatches(items, batchSize int) int {
	if items <= 0 || batchSize <= 0 {
		return 0
	}
	return (items + batchSize - 1) / batchSize
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
