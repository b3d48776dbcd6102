package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client so calls never exceed the limiter's rate.
// Waiting honors ctx; a cancelled wait is reported as a transport error.
type RateLimited struct {
	Client
	limiter *rate.Limiter
}

// WithRateLimit returns c limited to perSecond calls with the given burst.
// A non-positive rate returns c unchanged.
func WithRateLimit(c Client, perSecond float64, burst int) Client {
	if perSecond <= 0 {
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{Client: c, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// SendPrompt waits for a token, then delegates.
func (r *RateLimited) SendPrompt(ctx context.Context, prompt string) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, transportError(r.Provider(), err)
	}
	return r.Client.SendPrompt(ctx, prompt)
}
