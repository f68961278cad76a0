package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitTracker paces calls to one provider and tracks the quota state
// the provider reports back. The tracked state is advisory and process-local:
// it is rebuilt from scratch on restart, which is cheap since the pacing
// limiter alone keeps us under the configured ceiling.
type RateLimitTracker struct {
	limiter   *rate.Limiter
	resetAt   time.Time
	remaining int
	mu        sync.Mutex
}

// NewRateLimitTracker creates a tracker paced to the given requests per minute.
func NewRateLimitTracker(requestsPerMinute int) *RateLimitTracker {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	return &RateLimitTracker{
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		remaining: requestsPerMinute,
	}
}

// Wait blocks until the next call may proceed. When the provider has told us
// its quota window is exhausted, Wait holds until the reported reset time.
func (t *RateLimitTracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	resetAt := t.resetAt
	remaining := t.remaining
	t.mu.Unlock()

	if remaining <= 0 && time.Now().Before(resetAt) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit wait canceled: %w", ctx.Err())
		case <-time.After(time.Until(resetAt)):
		}
		t.mu.Lock()
		t.remaining = 1
		t.mu.Unlock()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}

// ObserveResponse updates quota state from provider rate-limit headers.
// Absent or malformed headers leave the state untouched.
func (t *RateLimitTracker) ObserveResponse(header http.Header) {
	remaining, remainingErr := strconv.Atoi(header.Get("x-ratelimit-remaining"))
	resetAt, resetErr := time.Parse(time.RFC3339, header.Get("x-ratelimit-reset"))

	t.mu.Lock()
	defer t.mu.Unlock()

	if remainingErr == nil {
		t.remaining = remaining
	}
	if resetErr == nil {
		t.resetAt = resetAt
	}
}

// ObserveRateLimited marks the quota window exhausted after a 429 response.
// The retryAfter duration comes from the Retry-After header when present.
func (t *RateLimitTracker) ObserveRateLimited(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = 0
	t.resetAt = time.Now().Add(retryAfter)
}

// Snapshot reports the tracked quota state for logging and diagnostics.
func (t *RateLimitTracker) Snapshot() (remaining int, resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining, t.resetAt
}
