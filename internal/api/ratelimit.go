package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter map
const maxLimiters = 10000

type RateLimiter struct {
	mu                sync.RWMutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond float64
	burstSize         int
}

// NewRateLimiter creates a per-client token bucket limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burstSize:         burst,
	}
}

func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Prevent unlimited growth
	if len(rl.limiters) >= maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, exists := rl.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burstSize)
		rl.limiters[client] = limiter
	}

	return limiter.Allow()
}

// Limit returns the configured requests per second
func (rl *RateLimiter) Limit() float64 {
	return rl.requestsPerSecond
}
