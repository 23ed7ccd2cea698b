package resilience

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrRateLimited reports that a rate limiter denied admission.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Name identifies the limiter in callbacks and logs.
	Name string
	// Rate is the sustained admission rate in executions per second.
	Rate float64
	// Burst caps back-to-back admissions. Zero derives it from Rate, never
	// below one.
	Burst int
	// OnLimit fires when Allow denies admission.
	OnLimit func(name string)
}

// RateLimiter throttles execution starts with a token bucket: tokens accrue
// continuously at Rate up to Burst, each admission spends one.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Burst <= 0 {
		// Ceil keeps fractional rates usable; int truncation would leave
		// an empty bucket that never admits.
		config.Burst = int(math.Ceil(config.Rate))
	}
	return &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		last:   time.Now(),
	}
}

// Allow spends one token when available. It never blocks.
func (l *RateLimiter) Allow() bool {
	_, ok := l.take()
	if !ok && l.config.OnLimit != nil {
		l.config.OnLimit(l.config.Name)
	}
	return ok
}

// Wait blocks until a token accrues or ctx ends. Denied polls are not
// reported through OnLimit.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay, ok := l.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the current bucket level.
func (l *RateLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// take spends one token, or reports how long until one accrues. Tokens are
// never reserved ahead: a waiter that gives up has consumed nothing.
func (l *RateLimiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	need := 1 - l.tokens
	return time.Duration(need / l.config.Rate * float64(time.Second)), false
}

// refill accrues tokens for the time since the last update. Callers hold mu.
func (l *RateLimiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.config.Rate
	l.last = now
	if l.tokens > float64(l.config.Burst) {
		l.tokens = float64(l.config.Burst)
	}
}
