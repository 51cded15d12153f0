// Package ratelimit implements a token bucket rate limiter keyed per
// upstream endpoint, used to throttle collector calls against external
// APIs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// ErrRateLimitTimeout signals that the caller's patience elapsed before
// a slot became available. Recoverable; the caller may retry later.
var ErrRateLimitTimeout = errors.New("rate limit timeout")

// Limiter manages one token bucket per key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	maxJitter    time.Duration
	rng          *rand.Rand
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the refill rate per key; zero or negative means
	// unlimited.
	DefaultRPS float64
	// DefaultBurst is the bucket capacity per key.
	DefaultBurst int
	// MaxJitter is the upper bound of the random delay added to each
	// wait so concurrent collector instances do not retry in lockstep.
	MaxJitter time.Duration
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
		maxJitter:    cfg.MaxJitter,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire blocks until a token is available for key, respecting the
// context. A context deadline maps to ErrRateLimitTimeout so callers
// can distinguish "out of patience" from cancellation.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	jitter := time.Duration(0)
	if l.maxJitter > 0 {
		jitter = time.Duration(l.rng.Int63n(int64(l.maxJitter)))
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		// Wait rejects up front once the needed wait cannot fit the
		// remaining deadline, before ctx.Err() fires. Either way a
		// deadline-bearing context ran out of patience, not upstream.
		if _, hasDeadline := ctx.Deadline(); hasDeadline {
			return fmt.Errorf("%w: key %q", ErrRateLimitTimeout, key)
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: key %q", ErrRateLimitTimeout, key)
			}
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

// AcquireTimeout is Acquire with a caller-specified patience budget.
func (l *Limiter) AcquireTimeout(ctx context.Context, key string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Acquire(ctx, key)
}
