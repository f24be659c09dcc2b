// Package breaker implements a per-provider circuit breaker guarding
// routed calls. Only errors that count against provider health
// (contract.ErrorCode.CountsAgainstBreaker) ever move the breaker toward
// open; caller mistakes, rate limiting, and auth failures never do.
//
// State transitions:
//
//	Closed   → Open      when consecutive failures ≥ FailureThreshold
//	Open     → HalfOpen  after OpenTimeout elapses
//	HalfOpen → Closed    when the single in-flight probe succeeds
//	HalfOpen → Open      when the single in-flight probe fails
package breaker

import (
	"sync"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards a single downstream provider. Unlike a plain consecutive-
// failure counter, only one probe call is allowed in flight while
// half-open — concurrent callers racing in during the probe window are
// rejected rather than all being let through.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	openTimeout      time.Duration
	openUntil        time.Time
	probeInFlight    bool
}

// DefaultFailureThreshold and DefaultOpenTimeout are applied when New is
// given non-positive values.
const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
)

// New creates a Breaker with the given failure threshold and open timeout,
// applying defaults for non-positive values.
func New(failureThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
	}
}

// State returns the current state, resolving an elapsed Open→HalfOpen
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState()
}

func (b *Breaker) resolveState() State {
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		b.state = StateHalfOpen
		b.probeInFlight = false
	}
	return b.state
}

// Allow reports whether a call should be attempted. When half-open, Allow
// grants passage to at most one caller at a time — the probe — and
// rejects the rest until that probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.resolveState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default: // StateOpen
		return false
	}
}

// RecordSuccess notifies the breaker that a call succeeded. closed reports
// whether this call just transitioned the breaker from half-open to
// closed, for callers that publish a breaker_closed event on that edge.
func (b *Breaker) RecordSuccess() (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
		return true
	case StateClosed:
		b.failureCount = 0
	}
	return false
}

// RecordFailure notifies the breaker of a call's outcome. Only error codes
// for which CountsAgainstBreaker is true move the breaker toward open;
// any other code is recorded as if the call had not happened at all.
// opened reports whether this call just transitioned the breaker into the
// open state, for callers that publish a breaker_opened event on that edge.
func (b *Breaker) RecordFailure(code contract.ErrorCode) (opened bool) {
	if !code.CountsAgainstBreaker() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.openUntil = time.Now().Add(b.openTimeout)
			return true
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openUntil = time.Now().Add(b.openTimeout)
		b.probeInFlight = false
		return true
	}
	return false
}

// Registry owns one Breaker per provider, creating them on first use with
// the registry's configured thresholds.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	openTimeout      time.Duration
}

// NewRegistry creates a Registry whose breakers all share failureThreshold
// and openTimeout.
func NewRegistry(failureThreshold int, openTimeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
	}
}

// For returns provider's breaker, creating it on first reference.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.failureThreshold, r.openTimeout)
		r.breakers[provider] = b
	}
	return b
}
