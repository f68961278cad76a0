package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ledgerlens/taxscope/internal/alerts"
	"github.com/ledgerlens/taxscope/internal/classifier"
	"github.com/ledgerlens/taxscope/internal/cli"
	"github.com/ledgerlens/taxscope/internal/config"
	"github.com/ledgerlens/taxscope/internal/engine"
	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/source"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze imported transactions for deductibility",
		Long: `Runs every unanalyzed transaction for a tenant through the classifier in
checkpointed batches. Already-analyzed transactions are skipped, budget
ceilings are enforced before and during the run, and an interrupted run
resumes where it left off.`,
		RunE: runAnalyze,
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	cmd.Flags().String("platform", "xero", "source platform (xero, myob)")
	cmd.Flags().String("period", "", "financial year to analyze, e.g. FY2025 (default: all)")
	cmd.Flags().Int("batch-size", 0, "override configured batch size")
	cmd.Flags().Bool("no-cache", false, "reanalyze transactions that already have results")
	cmd.Flags().Bool("no-progress", false, "disable the progress bar")
	cmd.Flags().String("metrics-addr", "", "expose Prometheus metrics on this address during the run, e.g. :9105")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tenant, _ := cmd.Flags().GetString("tenant")
	platform, err := parsePlatform(cmd)
	if err != nil {
		return err
	}
	period, _ := cmd.Flags().GetString("period")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if batchSize, _ := cmd.Flags().GetInt("batch-size"); batchSize > 0 {
		cfg.Analysis.BatchSize = batchSize
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go serveMetrics(addr)
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tracker := classifier.NewRateLimitTracker(cfg.Provider.RequestsPerMinute)
	clf, err := classifier.New(classifier.Config{
		Provider:          cfg.Provider.Name,
		APIKey:            cfg.Provider.APIKey,
		Model:             cfg.Provider.Model,
		Temperature:       cfg.Provider.Temperature,
		MaxTokens:         cfg.Provider.MaxTokens,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		Retry:             cfg.Retry,
	}, tracker, nil)
	if err != nil {
		return err
	}
	defer func() { _ = clf.Close() }()

	estimator := classifier.NewEstimator(cfg.Provider.Model, cfg.Provider.AvgInputTokens, cfg.Provider.AvgOutputTokens)

	var reporter *cli.ProgressReporter
	deps := engine.Deps{
		Store:      store,
		Source:     source.NewStorageSource(store),
		Classifier: clf,
		Estimator:  estimator,
		Calculator: estimator,
		Alerts:     alerts.NewGenerator(store, model.SeverityWarning, nil),
	}
	if !noProgress {
		reporter = cli.NewProgressReporter(os.Stderr)
		defer reporter.Close()
		deps.Observer = reporter
	}

	orch, err := engine.New(deps, engine.Config{
		BusinessContext:   cfg.Analysis.BusinessContext,
		Budget:            cfg.Budget,
		BatchSize:         cfg.Analysis.BatchSize,
		MinBatchSize:      cfg.Analysis.MinBatchSize,
		MaxBatchSize:      cfg.Analysis.MaxBatchSize,
		RateLimit:         cfg.Provider.RequestsPerMinute,
		TargetUtilization: cfg.Analysis.TargetUtilization,
		TuneAfterBatches:  cfg.Analysis.TuneAfterBatches,
		UseCaching:        cfg.Analysis.UseCaching && !noCache,
		AllowResume:       cfg.Analysis.AllowResume && !noCache,
		AutoTuneBatchSize: cfg.Analysis.AutoTuneBatchSize,
	})
	if err != nil {
		return err
	}

	run, runErr := orch.Run(ctx, tenant, platform, period)
	if reporter != nil {
		reporter.Close()
	}
	if run != nil {
		cli.PrintRunSummary(os.Stdout, run)
	}
	return runErr
}

// serveMetrics exposes the process metrics for the duration of the run.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics listener stopped", "addr", addr, "error", err)
	}
}

func parsePlatform(cmd *cobra.Command) (model.Platform, error) {
	raw, _ := cmd.Flags().GetString("platform")
	switch model.Platform(raw) {
	case model.PlatformXero:
		return model.PlatformXero, nil
	case model.PlatformMYOB:
		return model.PlatformMYOB, nil
	default:
		return "", fmt.Errorf("unsupported platform %q (expected xero or myob)", raw)
	}
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Regenerate compliance alerts from persisted results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			minSeverity := model.FlagSeverity(viper.GetString("alerts.min_severity"))
			gen := alerts.NewGenerator(store, minSeverity, nil)
			return gen.GenerateAlerts(ctx, tenant, "manual")
		},
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
