package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/taxscope/internal/service"
)

func testRetryOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     80 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrRateLimit, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("call failed: %w", ErrRateLimit), want: true},
		{name: "tagged retryable", err: &RetryableError{Err: errors.New("overloaded"), Retryable: true}, want: true},
		{name: "tagged permanent", err: &RetryableError{Err: errors.New("API error 429"), Retryable: false}, want: false},
		{name: "http 429", err: errors.New("unexpected status 429"), want: true},
		{name: "quota text", err: errors.New("Quota Exceeded for project"), want: true},
		{name: "resource exhausted", err: errors.New("rpc error: RESOURCE EXHAUSTED"), want: true},
		{name: "too many requests", err: errors.New("Too Many Requests"), want: true},
		{name: "rate limit text", err: errors.New("provider Rate Limit hit"), want: true},
		{name: "permanent", err: errors.New("invalid api key"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimitError(tt.err))
		})
	}
}

func TestCalculateDelayBounds(t *testing.T) {
	opts := testRetryOpts()

	// Jitter is random, so sample repeatedly and check the hard bounds.
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 100; i++ {
			delay := CalculateDelay(attempt, opts)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
			assert.LessOrEqual(t, float64(delay), float64(opts.MaxDelay)*1.15,
				"attempt %d exceeded jittered max", attempt)
		}
	}
}

func TestCalculateDelayGrows(t *testing.T) {
	opts := testRetryOpts()

	// Average over samples: expected delay is non-decreasing in the attempt
	// number even though individual samples jitter.
	avg := func(attempt int) float64 {
		var total float64
		for i := 0; i < 500; i++ {
			total += float64(CalculateDelay(attempt, opts))
		}
		return total / 500
	}

	prev := avg(1)
	for attempt := 2; attempt <= 4; attempt++ {
		cur := avg(attempt)
		assert.Greater(t, cur, prev, "expected attempt %d to back off longer", attempt)
		prev = cur
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return nil
		}, testRetryOpts())
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries rate limit errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("classify: %w", ErrRateLimit)
			}
			return nil
		}, testRetryOpts())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors propagate immediately", func(t *testing.T) {
		calls := 0
		permanent := errors.New("malformed response")
		err := WithRetry(context.Background(), func() error {
			calls++
			return permanent
		}, testRetryOpts())
		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("tagged permanent errors propagate immediately", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return &RetryableError{Err: errors.New("auth failed with 429-adjacent text"), Retryable: false}
		}, testRetryOpts())
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhaustion annotates attempt count", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return ErrRateLimit
		}, testRetryOpts())
		require.ErrorIs(t, err, ErrMaxRetries)
		require.ErrorIs(t, err, ErrRateLimit)
		assert.Equal(t, 5, calls)
		assert.Contains(t, err.Error(), "5 attempts")
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		opts := testRetryOpts()
		opts.InitialDelay = 5 * time.Second
		opts.MaxDelay = 5 * time.Second

		done := make(chan error, 1)
		go func() {
			done <- WithRetry(ctx, func() error {
				return ErrRateLimit
			}, opts)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("WithRetry did not observe cancellation")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return errors.New("not retryable")
		}, service.RetryOptions{})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
