// Package pacing spaces out LLM generation requests so a chatty client
// cannot burn through provider quota. One Guard is shared process-wide
// and injected into the chat pipeline.
package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Guard enforces a minimum interval between generation requests.
type Guard struct {
	limiter *rate.Limiter
}

// NewGuard creates a Guard with the given minimum interval between
// requests. A non-positive interval disables pacing.
func NewGuard(minInterval time.Duration) *Guard {
	if minInterval <= 0 {
		return &Guard{}
	}
	return &Guard{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next request slot is available and claims it.
// Claiming is atomic with the wait, so two concurrent callers can never
// share a slot. Returns the context error if ctx is done first.
func (g *Guard) Wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
