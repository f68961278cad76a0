package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/service"
)

// Config holds provider configuration for the classifier.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	Retry             service.RetryOptions
}

// Classifier assesses transactions against deductibility criteria through an
// external provider. It implements service.Classifier.
type Classifier struct {
	client  Client
	tracker *RateLimitTracker
	logger  *slog.Logger
	pricing ModelPricing
	retry   service.RetryOptions
}

// New creates a classifier for the configured provider. The tracker is
// injected rather than constructed here so callers can share one tracker
// across components and inspect its state.
func New(cfg Config, tracker *RateLimitTracker, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewRateLimitTracker(cfg.RequestsPerMinute)
	}

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case "anthropic", "":
		client, err = newAnthropicClient(cfg, tracker)
	case "openai":
		client, err = newOpenAIClient(cfg, tracker)
	default:
		return nil, fmt.Errorf("%w: unsupported provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}

	return &Classifier{
		client:  client,
		tracker: tracker,
		logger:  logger.With("component", "classifier"),
		pricing: PricingFor(cfg.Model),
		retry:   cfg.Retry,
	}, nil
}

// Tracker exposes the rate limit tracker for diagnostics.
func (c *Classifier) Tracker() *RateLimitTracker {
	return c.tracker
}

// CostOf prices one call's token usage at the configured model's rates.
func (c *Classifier) CostOf(usage model.TokenUsage) decimal.Decimal {
	return CalculateCost(usage, c.pricing)
}

// Classify analyzes one transaction. Rate-limited calls are retried with
// backoff; any other failure is returned to the caller unretried.
func (c *Classifier) Classify(ctx context.Context, txn model.Transaction, businessContext string) (*model.AnalysisResult, error) {
	prompt := buildAnalysisPrompt(txn, businessContext)

	var result *model.AnalysisResult
	err := common.WithRetry(ctx, func() error {
		if err := c.tracker.Wait(ctx); err != nil {
			return err
		}

		response, err := c.client.Analyze(ctx, prompt)
		if err != nil {
			if common.IsRateLimitError(err) {
				remaining, resetAt := c.tracker.Snapshot()
				c.logger.Warn("provider rate limited",
					"transaction_id", txn.ID,
					"remaining", remaining,
					"reset_at", resetAt.Format(time.RFC3339))
			}
			return err
		}

		parsed, err := parseAnalysisResponse(response.Content)
		if err != nil {
			return err
		}

		parsed.AnalyzedAt = time.Now().UTC()
		parsed.TransactionID = txn.ID
		parsed.Tenant = txn.Tenant
		parsed.Platform = txn.Platform
		parsed.Usage = model.TokenUsage{
			InputTokens:  response.InputTokens,
			OutputTokens: response.OutputTokens,
		}
		result = parsed
		return nil
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("classifying transaction %s: %w", txn.ID, err)
	}

	return result, nil
}

// Close releases client resources.
func (c *Classifier) Close() error {
	return nil
}
