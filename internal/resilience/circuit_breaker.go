// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resilience protects the pipeline from a failing vision backend.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling through while the breaker is
// open, or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State    State
	Failures int
	OpenedAt time.Time
	Rejected int64
}

// CircuitBreaker opens after threshold consecutive counted failures and
// rejects calls until resetTimeout has passed. It then admits exactly one
// probe; the probe's outcome closes or re-opens it.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	clock        clock
	// counts decides whether an error is held against the backend.
	// Errors it rejects neither trip nor reset the breaker.
	counts func(error) bool

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	rejected int64
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithFailurePredicate restricts which errors count towards tripping.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.counts = fn }
}

// NewCircuitBreaker creates a closed breaker. Non-positive values fall back
// to 5 failures and 30s.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
		counts:       func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(cb)
	}

	metrics.RecordBreakerTransition(cb.name, "", string(cb.state))
	return cb
}

// Execute runs fn unless the breaker refuses the call.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		metrics.RecordBreakerRejected(cb.name)
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}
	switch {
	case err == nil:
		cb.failures = 0
		cb.transitionTo(StateClosed)
	case cb.counts(err):
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.transitionTo(StateOpen)
		}
	case probe:
		// An uncounted probe error says nothing about the backend; let the
		// next call probe again.
	}
	return err
}

// admit reports whether a call may proceed and whether it is the half-open probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.rejected++
			return false, false
		}
		cb.transitionTo(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probing {
			cb.rejected++
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return false, true
	}
}

// transitionTo updates state and metrics. Caller must hold the lock.
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	if next == StateOpen {
		cb.openedAt = cb.clock.Now()
	}
	metrics.RecordBreakerTransition(cb.name, string(prev), string(next))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot for health reporting.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:    cb.state,
		Failures: cb.failures,
		OpenedAt: cb.openedAt,
		Rejected: cb.rejected,
	}
}
