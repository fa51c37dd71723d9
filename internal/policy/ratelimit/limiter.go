// Package ratelimit implements token bucket pacing keyed by an arbitrary
// name, such as a queue id or listing endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/family-crawler/internal/metrics"
)

// Limiter manages per-key rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive RPS disables pacing.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for key, respecting the context.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		key = "unknown"
	}
	limiter := l.limiterFor(key)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, d)
	}
	return nil
}

// Keys returns the number of keys with an active bucket.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	return limiter
}
