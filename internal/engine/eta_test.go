package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateETA(t *testing.T) {
	start := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	t.Run("nil before any items are done", func(t *testing.T) {
		assert.Nil(t, EstimateETA(0, 100, start, start.Add(time.Minute)))
	})

	t.Run("nil when already complete", func(t *testing.T) {
		assert.Nil(t, EstimateETA(100, 100, start, start.Add(time.Hour)))
	})

	t.Run("nil when total is zero", func(t *testing.T) {
		assert.Nil(t, EstimateETA(0, 0, start, start))
	})

	t.Run("nil when no time has elapsed", func(t *testing.T) {
		assert.Nil(t, EstimateETA(10, 100, start, start))
		assert.Nil(t, EstimateETA(10, 100, start, start.Add(-time.Second)))
	})

	t.Run("linear extrapolation", func(t *testing.T) {
		// 50 of 200 done in 10 minutes: 150 remain at 12s each = 30 more minutes.
		now := start.Add(10 * time.Minute)
		eta := EstimateETA(50, 200, start, now)
		require.NotNil(t, eta)
		assert.Equal(t, now.Add(30*time.Minute), *eta)
	})

	t.Run("always strictly in the future mid-run", func(t *testing.T) {
		now := start.Add(5 * time.Minute)
		for done := 1; done < 100; done++ {
			eta := EstimateETA(done, 100, start, now)
			require.NotNil(t, eta, "done=%d", done)
			assert.True(t, eta.After(now), "done=%d", done)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		now := start.Add(time.Minute)
		first := EstimateETA(10, 40, start, now)
		second := EstimateETA(10, 40, start, now)
		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, *first, *second)
	})
}
