package classifier

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/model"
)

// ModelPricing holds per-token USD rates for one model.
type ModelPricing struct {
	InputCostPerToken  decimal.Decimal
	OutputCostPerToken decimal.Decimal
}

// embeddedPricing is the fallback rate card. Rates drift slowly enough that
// a static table is acceptable for budget enforcement; the ledger records
// actual usage either way.
var embeddedPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514": {
		InputCostPerToken:  decimal.New(3, -6),
		OutputCostPerToken: decimal.New(15, -6),
	},
	"claude-3-5-haiku-20241022": {
		InputCostPerToken:  decimal.New(8, -7),
		OutputCostPerToken: decimal.New(4, -6),
	},
	"claude-3-opus-20240229": {
		InputCostPerToken:  decimal.New(15, -6),
		OutputCostPerToken: decimal.New(75, -6),
	},
	"gpt-4o": {
		InputCostPerToken:  decimal.New(25, -7),
		OutputCostPerToken: decimal.New(10, -6),
	},
	"gpt-4o-mini": {
		InputCostPerToken:  decimal.New(15, -8),
		OutputCostPerToken: decimal.New(6, -7),
	},
}

// defaultPricing is used for unknown models (mid-tier rates).
var defaultPricing = ModelPricing{
	InputCostPerToken:  decimal.New(3, -6),
	OutputCostPerToken: decimal.New(15, -6),
}

// PricingFor returns the rate card for a model, falling back to mid-tier
// default rates when the model is unknown.
func PricingFor(modelName string) ModelPricing {
	if p, ok := embeddedPricing[modelName]; ok {
		return p
	}

	normalized := normalizeModelName(modelName)
	for name, p := range embeddedPricing {
		if normalizeModelName(name) == normalized {
			return p
		}
	}

	return defaultPricing
}

func normalizeModelName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// CalculateCost prices one call's actual token usage.
func CalculateCost(usage model.TokenUsage, pricing ModelPricing) decimal.Decimal {
	input := pricing.InputCostPerToken.Mul(decimal.NewFromInt(int64(usage.InputTokens)))
	output := pricing.OutputCostPerToken.Mul(decimal.NewFromInt(int64(usage.OutputTokens)))
	return input.Add(output)
}

// Estimator projects spend before any calls are made, using configured
// average token counts per transaction. Implements service.CostEstimator.
type Estimator struct {
	pricing         ModelPricing
	avgInputTokens  int
	avgOutputTokens int
}

// NewEstimator creates a cost estimator for a model. Zero token averages
// fall back to figures observed for transaction analysis prompts.
func NewEstimator(modelName string, avgInputTokens, avgOutputTokens int) *Estimator {
	if avgInputTokens <= 0 {
		avgInputTokens = 1200
	}
	if avgOutputTokens <= 0 {
		avgOutputTokens = 500
	}

	return &Estimator{
		pricing:         PricingFor(modelName),
		avgInputTokens:  avgInputTokens,
		avgOutputTokens: avgOutputTokens,
	}
}

// CostOf prices actual token usage at the estimator's model rates.
func (e *Estimator) CostOf(usage model.TokenUsage) decimal.Decimal {
	return CalculateCost(usage, e.pricing)
}

// EstimateCost projects the cost of analyzing the given number of transactions.
func (e *Estimator) EstimateCost(transactionCount int) decimal.Decimal {
	if transactionCount <= 0 {
		return decimal.Zero
	}

	perItem := CalculateCost(model.TokenUsage{
		InputTokens:  e.avgInputTokens,
		OutputTokens: e.avgOutputTokens,
	}, e.pricing)

	return perItem.Mul(decimal.NewFromInt(int64(transactionCount)))
}
