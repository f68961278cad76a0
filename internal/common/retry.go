package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/ledgerlens/taxscope/internal/metrics"
	"github.com/ledgerlens/taxscope/internal/service"
)

// jitterFraction spreads retry delays by ±15% so concurrent runs do not
// hammer the provider in lockstep after a shared rate-limit window.
const jitterFraction = 0.15

// rateLimitSignatures are matched case-insensitively against opaque error
// text when the error carries no RetryableError tag. Tagged errors from the
// classifier boundary are always preferred over this heuristic.
var rateLimitSignatures = []string{
	"429",
	"rate limit",
	"quota exceeded",
	"resource exhausted",
	"too many requests",
}

// IsRateLimitError reports whether an error looks like a rate-limit-shaped
// transient provider failure.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// CalculateDelay returns the backoff delay before the given attempt,
// jittered by ±15%. Attempts are 1-based: the delay before attempt n is
// min(maxDelay, initialDelay × multiplier^(n-1)).
func CalculateDelay(attempt int, opts service.RetryOptions) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1))
	if delay > float64(opts.MaxDelay) {
		delay = float64(opts.MaxDelay)
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
}

// WithRetry executes an operation with rate-limit-aware retry and
// exponential backoff. Non-rate-limit errors propagate immediately: they are
// assumed not self-healing. On exhausting attempts the last error is wrapped
// with the attempt count.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRateLimitError(err) {
			return err
		}

		if attempt == opts.MaxAttempts {
			break
		}

		delay := CalculateDelay(attempt, opts)
		metrics.RetryWaits.Inc()
		slog.Warn("rate limited, backing off",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, lastErr)
}
