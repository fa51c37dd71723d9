package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryConfig bounds the retry of transient listing failures. Zero
// MaxAttempts or MaxElapsed disables that limit.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

// ExponentialRetryPolicy implements capped, jittered exponential backoff with
// an attempt/elapsed circuit breaker.
type ExponentialRetryPolicy struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	maxElapsed  time.Duration
}

// NewExponentialRetryPolicy builds a policy, filling unset delays with defaults.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &ExponentialRetryPolicy{
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
		maxElapsed:  cfg.MaxElapsed,
	}
}

// ShouldRetry reports whether another attempt is allowed after `attempt`
// failed attempts spanning `elapsed`.
func (p *ExponentialRetryPolicy) ShouldRetry(attempt int, elapsed time.Duration) bool {
	if p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return false
	}
	if p.maxElapsed > 0 && elapsed >= p.maxElapsed {
		return false
	}
	return true
}

// Backoff returns the wait before the next attempt, in [delay/2, delay).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + RandomDuration(time.Duration(delay)/2)
}

// RandomDuration returns a uniformly random duration in [0, limit).
func RandomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// RandomBetween returns a random duration in [lo, hi].
func RandomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + RandomDuration(hi-lo+1)
}
