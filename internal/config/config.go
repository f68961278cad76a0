// Package config provides configuration loading for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/service"
)

// Analysis holds the orchestration settings for a run.
type Analysis struct {
	BusinessContext   string
	BatchSize         int
	MinBatchSize      int
	MaxBatchSize      int
	TuneAfterBatches  int
	TargetUtilization float64
	UseCaching        bool
	AllowResume       bool
	AutoTuneBatchSize bool
}

// Provider holds the external classifier settings.
type Provider struct {
	Name              string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	AvgInputTokens    int
	AvgOutputTokens   int
}

// Config is the full application configuration.
type Config struct {
	DatabasePath string
	Provider     Provider
	Analysis     Analysis
	Budget       service.BudgetConfig
	Retry        service.RetryOptions
}

// setDefaults registers every default with viper so config files, TAXSCOPE_
// environment variables, and flags all override the same keys.
func setDefaults() {
	viper.SetDefault("database.path", "$HOME/.local/share/taxscope/taxscope.db")

	viper.SetDefault("provider.name", "anthropic")
	viper.SetDefault("provider.model", "claude-sonnet-4-20250514")
	viper.SetDefault("provider.temperature", 0.2)
	viper.SetDefault("provider.max_tokens", 1024)
	viper.SetDefault("provider.requests_per_minute", 50)
	viper.SetDefault("provider.avg_input_tokens", 1200)
	viper.SetDefault("provider.avg_output_tokens", 500)

	viper.SetDefault("analysis.batch_size", 50)
	viper.SetDefault("analysis.min_batch_size", 5)
	viper.SetDefault("analysis.max_batch_size", 100)
	viper.SetDefault("analysis.tune_after_batches", 3)
	viper.SetDefault("analysis.target_utilization", 0.8)
	viper.SetDefault("analysis.use_caching", true)
	viper.SetDefault("analysis.allow_resume", true)
	viper.SetDefault("analysis.auto_tune_batch_size", true)

	viper.SetDefault("budget.max_cost_usd", "25.00")
	viper.SetDefault("budget.warn_threshold_percent", 80.0)
	viper.SetDefault("budget.hard_stop_enabled", true)

	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.initial_delay", "1s")
	viper.SetDefault("retry.max_delay", "30s")
	viper.SetDefault("retry.multiplier", 2.0)
}

// Load materializes the configuration from viper's current state.
func Load() (*Config, error) {
	setDefaults()

	maxCost, err := decimal.NewFromString(viper.GetString("budget.max_cost_usd"))
	if err != nil {
		return nil, fmt.Errorf("%w: budget.max_cost_usd %q: %w",
			common.ErrInvalidConfig, viper.GetString("budget.max_cost_usd"), err)
	}

	apiKey := viper.GetString("provider.api_key")
	if apiKey == "" {
		// Fall back to the conventional provider variables.
		switch viper.GetString("provider.name") {
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		default:
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	cfg := &Config{
		DatabasePath: ExpandPath(viper.GetString("database.path")),
		Provider: Provider{
			Name:              viper.GetString("provider.name"),
			APIKey:            apiKey,
			Model:             viper.GetString("provider.model"),
			Temperature:       viper.GetFloat64("provider.temperature"),
			MaxTokens:         viper.GetInt("provider.max_tokens"),
			RequestsPerMinute: viper.GetInt("provider.requests_per_minute"),
			AvgInputTokens:    viper.GetInt("provider.avg_input_tokens"),
			AvgOutputTokens:   viper.GetInt("provider.avg_output_tokens"),
		},
		Analysis: Analysis{
			BusinessContext:   viper.GetString("analysis.business_context"),
			BatchSize:         viper.GetInt("analysis.batch_size"),
			MinBatchSize:      viper.GetInt("analysis.min_batch_size"),
			MaxBatchSize:      viper.GetInt("analysis.max_batch_size"),
			TuneAfterBatches:  viper.GetInt("analysis.tune_after_batches"),
			TargetUtilization: viper.GetFloat64("analysis.target_utilization"),
			UseCaching:        viper.GetBool("analysis.use_caching"),
			AllowResume:       viper.GetBool("analysis.allow_resume"),
			AutoTuneBatchSize: viper.GetBool("analysis.auto_tune_batch_size"),
		},
		Budget: service.BudgetConfig{
			MaxCostUSD:           maxCost,
			WarnThresholdPercent: viper.GetFloat64("budget.warn_threshold_percent"),
			HardStopEnabled:      viper.GetBool("budget.hard_stop_enabled"),
		},
		Retry: service.RetryOptions{
			MaxAttempts:  viper.GetInt("retry.max_attempts"),
			InitialDelay: mustDuration(viper.GetString("retry.initial_delay"), time.Second),
			MaxDelay:     mustDuration(viper.GetString("retry.max_delay"), 30*time.Second),
			Multiplier:   viper.GetFloat64("retry.multiplier"),
		},
	}

	if cfg.Analysis.MinBatchSize > cfg.Analysis.MaxBatchSize {
		return nil, fmt.Errorf("%w: analysis.min_batch_size %d exceeds analysis.max_batch_size %d",
			common.ErrInvalidConfig, cfg.Analysis.MinBatchSize, cfg.Analysis.MaxBatchSize)
	}

	return cfg, nil
}

func mustDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ExpandPath resolves a leading ~ and any $VAR references in a path, so
// config values like "~/.local/share/taxscope/taxscope.db" work as written.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
