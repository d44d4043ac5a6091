// Package server implements per-connection token bucket throttling that
// protects the relay from abusive clients.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter allows capacity events per interval with bursts up to capacity.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), capacity),
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
