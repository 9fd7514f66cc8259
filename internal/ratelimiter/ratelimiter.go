// Package ratelimiter bounds the total request rate to the upstream fleet
// with a token bucket: capacity equals the configured rate, refilled at the
// same rate per second, on a monotonic clock.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate with the capacity-equals-rate shape
// this spec requires: burst size and refill rate are the same number.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a limiter with the given rate (tokens refilled per second,
// and also the bucket's capacity).
func New(ratePerSecond int) *Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Tokens reports the current (possibly fractional) token count, for
// diagnostics.
func (l *Limiter) Tokens() float64 {
	return l.rl.Tokens()
}
