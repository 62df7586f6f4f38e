// Package ratelimit implements the single shared gate every outbound request
// passes through. All fetch calls in a run, regardless of which worker issued
// them, serialize here so the target site never sees requests faster than the
// configured inter-request delay.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate is a token bucket admitting one request per configured delay. It is
// safe for concurrent use; workers never hold independent delay timers.
type Gate struct {
	limiter *rate.Limiter
}

// New builds a Gate. A non-positive delay disables limiting.
func New(delay time.Duration) *Gate {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Gate{limiter: rate.NewLimiter(limit, 1)}
}

// SetDelay retunes the gate to a new inter-request delay. A non-positive
// delay disables limiting. Blocked Wait calls pick up the new rate at their
// next admission.
func (g *Gate) SetDelay(delay time.Duration) {
	if g == nil {
		return
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	g.limiter.SetLimit(limit)
}

// Wait blocks until the gate admits a request or the context finishes.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
