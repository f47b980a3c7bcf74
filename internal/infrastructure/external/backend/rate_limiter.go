package backend

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter is a token bucket. Frame uploads use TryAllow and are dropped
// when the bucket is empty; control calls use Allow and wait.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens  float64 // bucket size
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	pausedTill time.Time // set by a 429 from the server

	waitTimeout time.Duration
	now         func() time.Time
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// PerMinute is the sustained rate.
	PerMinute int

	// Burst is the bucket size.
	Burst int

	// WaitTimeout bounds Allow.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig allows two frames a second with a small burst.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute:   120,
		Burst:       3,
		WaitTimeout: 10 * time.Second,
	}
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	return &RateLimiter{
		maxTokens:   float64(config.Burst),
		refillRate:  float64(config.PerMinute) / 60,
		tokens:      float64(config.Burst),
		lastRefill:  time.Now(),
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
}

// RateLimitError is returned when Allow gives up.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Allow blocks until a token is available, ctx is done, or the wait timeout passes.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := rl.now().Add(rl.waitTimeout)
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}
		if rl.waitTimeout > 0 && rl.now().Add(wait).After(deadline) {
			return &RateLimitError{RetryAfter: wait, Message: "rate limit exceeded, retry after " + wait.String()}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAllow takes a token if one is available, without blocking.
func (rl *RateLimiter) TryAllow() bool {
	_, ok := rl.tryAcquire()
	return ok
}

func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.refill(now)

	if now.Before(rl.pausedTill) {
		return rl.pausedTill.Sub(now), false
	}
	if rl.tokens < 1 {
		need := 1 - rl.tokens
		return time.Duration(need / rl.refillRate * float64(time.Second)), false
	}
	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket and pauses for retryAfter.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	if retryAfter > 0 {
		rl.pausedTill = rl.now().Add(retryAfter)
	}
}

// Available returns the current token count.
func (rl *RateLimiter) Available() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())
	return rl.tokens
}
