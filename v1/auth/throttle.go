package auth

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits how often challenges reach the wrapped Authenticator.
// A throttled challenge fails immediately; probes are never limited.
type Throttled struct {
	inner   Authenticator
	limiter *rate.Limiter
}

// NewThrottled wraps a with a token bucket of the given rate and burst.
func NewThrottled(a Authenticator, limit rate.Limit, burst int) *Throttled {
	return &Throttled{inner: a, limiter: rate.NewLimiter(limit, burst)}
}

// Probe implements Authenticator.
func (t *Throttled) Probe(ctx context.Context) (Capability, error) {
	return t.inner.Probe(ctx)
}

// Challenge implements Authenticator.
func (t *Throttled) Challenge(ctx context.Context, prompt string) (Result, error) {
	if !t.limiter.Allow() {
		return Result{Reason: "throttled"}, nil
	}
	return t.inner.Challenge(ctx, prompt)
}
