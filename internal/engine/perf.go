package engine

import (
	"math"
	"sync"
	"time"
)

const (
	perfWindowSize           = 10
	defaultTargetUtilization = 0.8
)

// batchSample records the outcome of one processed batch.
type batchSample struct {
	duration time.Duration
	items    int
	hadError bool
}

// PerformanceTracker keeps rolling statistics over the last few batches and
// suggests a batch size that keeps throughput under the provider's rate
// limit. Safe for concurrent use.
type PerformanceTracker struct {
	samples           []batchSample
	rateLimit         int
	targetUtilization float64
	minBatchSize      int
	maxBatchSize      int
	mu                sync.Mutex
}

// NewPerformanceTracker creates a tracker bound to a provider rate limit
// (requests per minute) and batch size clamps.
func NewPerformanceTracker(rateLimit, minBatchSize, maxBatchSize int, targetUtilization float64) *PerformanceTracker {
	if targetUtilization <= 0 || targetUtilization > 1 {
		targetUtilization = defaultTargetUtilization
	}
	if minBatchSize <= 0 {
		minBatchSize = 1
	}
	if maxBatchSize < minBatchSize {
		maxBatchSize = minBatchSize
	}

	return &PerformanceTracker{
		samples:           make([]batchSample, 0, perfWindowSize),
		rateLimit:         rateLimit,
		targetUtilization: targetUtilization,
		minBatchSize:      minBatchSize,
		maxBatchSize:      maxBatchSize,
	}
}

// RecordBatch adds one batch outcome to the rolling window, evicting the
// oldest sample once the window is full.
func (t *PerformanceTracker) RecordBatch(items int, duration time.Duration, hadError bool) {
	if items <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, batchSample{
		items:    items,
		duration: duration,
		hadError: hadError,
	})
	if len(t.samples) > perfWindowSize {
		t.samples = t.samples[1:]
	}
}

// AvgItemTime returns the mean per-item processing time across the window,
// or zero when no batches have been recorded.
func (t *PerformanceTracker) AvgItemTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avgItemTimeLocked()
}

func (t *PerformanceTracker) avgItemTimeLocked() time.Duration {
	totalItems := 0
	var totalDuration time.Duration
	for _, s := range t.samples {
		totalItems += s.items
		totalDuration += s.duration
	}
	if totalItems == 0 {
		return 0
	}
	return totalDuration / time.Duration(totalItems)
}

// SuccessRate is the fraction of recorded batches that finished without an
// error, or 1 when nothing has been recorded yet.
func (t *PerformanceTracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return 1
	}

	succeeded := 0
	for _, s := range t.samples {
		if !s.hadError {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(t.samples))
}

// SuggestBatchSize computes a batch size from observed throughput and the
// configured rate limit, clamped to the tracker's bounds. With no samples it
// falls back to the rate-limit-derived size alone.
func (t *PerformanceTracker) SuggestBatchSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	byRateLimit := float64(t.rateLimit) * t.targetUtilization

	suggested := byRateLimit
	if avg := t.avgItemTimeLocked(); avg > 0 {
		avgMs := float64(avg) / float64(time.Millisecond)
		byThroughput := float64(time.Minute.Milliseconds()) / avgMs
		suggested = math.Min(byRateLimit, byThroughput)
	}

	size := int(math.Floor(suggested))
	if size < t.minBatchSize {
		return t.minBatchSize
	}
	if size > t.maxBatchSize {
		return t.maxBatchSize
	}
	return size
}
