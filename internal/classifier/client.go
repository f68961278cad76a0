// Package classifier drives the external tax analysis service: provider
// clients, prompt construction, rate limiting, retry, and cost accounting.
package classifier

import (
	"context"
)

// Client defines the interface for analysis providers. Implementations tag
// failures with common.RetryableError: rate-limit-shaped responses are
// retryable, everything else is permanent.
type Client interface {
	Analyze(ctx context.Context, prompt string) (AnalysisResponse, error)
}

// AnalysisResponse is the raw provider output before domain parsing.
type AnalysisResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}
