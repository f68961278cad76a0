package classifier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/taxscope/internal/model"
)

func TestPricingFor(t *testing.T) {
	t.Run("known model", func(t *testing.T) {
		p := PricingFor("claude-sonnet-4-20250514")
		assert.True(t, p.InputCostPerToken.Equal(decimal.New(3, -6)))
		assert.True(t, p.OutputCostPerToken.Equal(decimal.New(15, -6)))
	})

	t.Run("unknown model falls back to defaults", func(t *testing.T) {
		p := PricingFor("some-future-model")
		assert.True(t, p.InputCostPerToken.Equal(defaultPricing.InputCostPerToken))
	})

	t.Run("matches despite separator differences", func(t *testing.T) {
		p := PricingFor("claude_sonnet_4_20250514")
		assert.True(t, p.InputCostPerToken.Equal(decimal.New(3, -6)))
	})
}

func TestCalculateCost(t *testing.T) {
	pricing := ModelPricing{
		InputCostPerToken:  decimal.New(3, -6),
		OutputCostPerToken: decimal.New(15, -6),
	}

	cost := CalculateCost(model.TokenUsage{InputTokens: 1000, OutputTokens: 500}, pricing)

	// 1000 * 0.000003 + 500 * 0.000015 = 0.003 + 0.0075
	expected, err := decimal.NewFromString("0.0105")
	require.NoError(t, err)
	assert.True(t, cost.Equal(expected), "got %s", cost)
}

func TestEstimator(t *testing.T) {
	t.Run("scales linearly with count", func(t *testing.T) {
		est := NewEstimator("claude-sonnet-4-20250514", 1000, 500)

		one := est.EstimateCost(1)
		forty := est.EstimateCost(40)

		assert.True(t, forty.Equal(one.Mul(decimal.NewFromInt(40))))
	})

	t.Run("zero and negative counts cost nothing", func(t *testing.T) {
		est := NewEstimator("gpt-4o-mini", 0, 0)
		assert.True(t, est.EstimateCost(0).IsZero())
		assert.True(t, est.EstimateCost(-3).IsZero())
	})

	t.Run("zero token averages get defaults", func(t *testing.T) {
		est := NewEstimator("claude-sonnet-4-20250514", 0, 0)
		assert.True(t, est.EstimateCost(1).IsPositive())
	})
}
