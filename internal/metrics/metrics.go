// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesProcessed tracks completed batches per tenant
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxscope_batches_processed_total",
			Help: "Total number of batches processed",
		},
		[]string{"tenant", "platform"},
	)

	// TransactionsAnalyzed tracks classifier results persisted per tenant
	TransactionsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxscope_transactions_analyzed_total",
			Help: "Total number of transactions analyzed",
		},
		[]string{"tenant", "platform"},
	)

	// ClassifierCalls tracks provider calls by outcome
	ClassifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxscope_classifier_calls_total",
			Help: "Total number of classifier calls",
		},
		[]string{"outcome"},
	)

	// RetryWaits tracks backoff sleeps caused by rate limiting
	RetryWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taxscope_retry_waits_total",
			Help: "Total number of rate limit backoff waits",
		},
	)

	// RunProgress tracks percent complete of the most recent run per tenant
	RunProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taxscope_run_progress_percent",
			Help: "Percent complete of the current analysis run",
		},
		[]string{"tenant", "platform"},
	)

	// AccumulatedCost tracks total recorded spend per tenant in USD
	AccumulatedCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taxscope_accumulated_cost_usd",
			Help: "Total recorded classifier spend per tenant in USD",
		},
		[]string{"tenant"},
	)

	// RunsCompleted tracks finished runs by terminal status
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxscope_runs_completed_total",
			Help: "Total number of runs reaching a terminal status",
		},
		[]string{"status"},
	)
)
