// Package ratelimit provides per-provider token-bucket rate limiting for
// the router, built on golang.org/x/time/rate rather than a hand-rolled
// bucket since the ecosystem already owns this concern.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Store maintains one rate.Limiter per provider, keyed by provider name
// and created on demand, configured from each provider's
// requests-per-minute capability.
type Store struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewStore creates an empty per-provider limiter store.
func NewStore() *Store {
	return &Store{limiters: make(map[string]*rate.Limiter)}
}

// Register installs (or replaces) the limiter for provider, configured
// from ratePerMinute (capabilities.rate_limit_per_minute). The burst is
// ratePerMinute/6 (ten seconds' worth of tokens), at least 1, so up to that
// many calls pass at once before the steady-state rate applies.
func (s *Store) Register(provider string, ratePerMinute int) {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	perSecond := rate.Limit(float64(ratePerMinute) / 60.0)
	burst := ratePerMinute / 6
	if burst < 1 {
		burst = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[provider] = rate.NewLimiter(perSecond, burst)
}

// Result reports the outcome of Acquire.
type Result struct {
	Allowed      bool
	RetryAfterMs int64
}

// Acquire attempts to reserve one token for provider, waiting up to
// budget if the token is not immediately available. If budget would be
// exceeded, it returns Allowed=false with RetryAfterMs set to the
// computed refill delay rather than blocking past the caller's deadline.
// budget is taken out of the enclosing request's remaining timeout.
func (s *Store) Acquire(ctx context.Context, provider string, budget time.Duration) Result {
	limiter := s.limiterFor(provider)

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return Result{Allowed: false, RetryAfterMs: budget.Milliseconds()}
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return Result{Allowed: true}
	}
	if delay > budget {
		reservation.Cancel()
		return Result{Allowed: false, RetryAfterMs: delay.Milliseconds()}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Result{Allowed: true}
	case <-ctx.Done():
		reservation.Cancel()
		return Result{Allowed: false, RetryAfterMs: delay.Milliseconds()}
	}
}

// limiterFor returns provider's limiter, lazily creating a generous
// default (60 rpm) if Register was never called for it.
func (s *Store) limiterFor(provider string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[provider]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[provider]; ok {
		return l
	}
	l = rate.NewLimiter(1, 10)
	s.limiters[provider] = l
	return l
}
