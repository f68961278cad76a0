package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceTracker(t *testing.T) {
	t.Run("no samples falls back to rate limit sizing", func(t *testing.T) {
		tracker := NewPerformanceTracker(50, 5, 100, 0.8)
		assert.Equal(t, 40, tracker.SuggestBatchSize())
		assert.Equal(t, time.Duration(0), tracker.AvgItemTime())
		assert.Equal(t, 1.0, tracker.SuccessRate())
	})

	t.Run("throughput bound wins when items are slow", func(t *testing.T) {
		tracker := NewPerformanceTracker(100, 5, 100, 0.8)
		// 10 items in 20 seconds: 2s per item, 30 per minute.
		tracker.RecordBatch(10, 20*time.Second, false)
		assert.Equal(t, 30, tracker.SuggestBatchSize())
	})

	t.Run("rate limit bound wins when items are fast", func(t *testing.T) {
		tracker := NewPerformanceTracker(50, 5, 100, 0.8)
		tracker.RecordBatch(100, time.Second, false)
		assert.Equal(t, 40, tracker.SuggestBatchSize())
	})

	t.Run("suggestion clamps to bounds", func(t *testing.T) {
		tracker := NewPerformanceTracker(1000, 5, 60, 0.8)
		assert.Equal(t, 60, tracker.SuggestBatchSize())

		slow := NewPerformanceTracker(50, 10, 100, 0.8)
		// 1 item per minute computes to a size below the floor.
		slow.RecordBatch(1, time.Minute, false)
		assert.Equal(t, 10, slow.SuggestBatchSize())
	})

	t.Run("window evicts oldest samples", func(t *testing.T) {
		tracker := NewPerformanceTracker(100, 5, 100, 0.8)
		// An early error should fall out of the window after 10 clean batches.
		tracker.RecordBatch(10, time.Second, true)
		for i := 0; i < 10; i++ {
			tracker.RecordBatch(10, time.Second, false)
		}
		assert.Equal(t, 1.0, tracker.SuccessRate())
	})

	t.Run("success rate counts errored batches", func(t *testing.T) {
		tracker := NewPerformanceTracker(100, 5, 100, 0.8)
		tracker.RecordBatch(10, time.Second, false)
		tracker.RecordBatch(10, time.Second, true)
		tracker.RecordBatch(10, time.Second, false)
		tracker.RecordBatch(10, time.Second, false)
		assert.Equal(t, 0.75, tracker.SuccessRate())
	})

	t.Run("zero item batches are ignored", func(t *testing.T) {
		tracker := NewPerformanceTracker(100, 5, 100, 0.8)
		tracker.RecordBatch(0, time.Second, true)
		assert.Equal(t, 1.0, tracker.SuccessRate())
	})

	t.Run("invalid utilization gets the default", func(t *testing.T) {
		tracker := NewPerformanceTracker(50, 5, 100, 0)
		assert.Equal(t, 40, tracker.SuggestBatchSize())
	})
}
