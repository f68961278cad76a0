package classifier

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitTracker(t *testing.T) {
	t.Run("first call proceeds immediately", func(t *testing.T) {
		tracker := NewRateLimitTracker(60)

		start := time.Now()
		require.NoError(t, tracker.Wait(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("observe response updates quota state", func(t *testing.T) {
		tracker := NewRateLimitTracker(60)
		resetAt := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)

		header := http.Header{}
		header.Set("x-ratelimit-remaining", "42")
		header.Set("x-ratelimit-reset", resetAt.Format(time.RFC3339))
		tracker.ObserveResponse(header)

		remaining, reset := tracker.Snapshot()
		assert.Equal(t, 42, remaining)
		assert.True(t, reset.Equal(resetAt))
	})

	t.Run("malformed headers leave state untouched", func(t *testing.T) {
		tracker := NewRateLimitTracker(60)
		before, _ := tracker.Snapshot()

		header := http.Header{}
		header.Set("x-ratelimit-remaining", "not-a-number")
		header.Set("x-ratelimit-reset", "tomorrow")
		tracker.ObserveResponse(header)

		after, resetAt := tracker.Snapshot()
		assert.Equal(t, before, after)
		assert.True(t, resetAt.IsZero())
	})

	t.Run("exhausted quota holds until reset", func(t *testing.T) {
		tracker := NewRateLimitTracker(6000)
		tracker.ObserveRateLimited(50 * time.Millisecond)

		start := time.Now()
		require.NoError(t, tracker.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("wait respects context cancellation", func(t *testing.T) {
		tracker := NewRateLimitTracker(60)
		tracker.ObserveRateLimited(time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := tracker.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rate limited default holds for a minute", func(t *testing.T) {
		tracker := NewRateLimitTracker(60)
		tracker.ObserveRateLimited(0)

		remaining, resetAt := tracker.Snapshot()
		assert.Zero(t, remaining)
		assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)
	})
}
