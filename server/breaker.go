package server

import (
	"sync"
	"time"

	"github.com/fs9fs/fs9/fs"
)

// CircuitState is the breaker's position.
type CircuitState int

// Breaker states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards calls to a flaky collaborator. It opens after a run
// of consecutive failures, refuses requests while open, and turns half-open
// once the recovery timeout has passed. While half-open, Allow admits every
// request, not a single trial; the next recorded result closes or re-opens
// the breaker.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failures        int
	threshold       int
	recoveryTimeout time.Duration
	lastFailure     time.Time
	service         string
}

// NewCircuitBreaker makes a closed breaker for the named service.
func NewCircuitBreaker(service string, threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		service:         service,
	}
}

// State returns the effective state, accounting for recovery timeout expiry.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == CircuitOpen && time.Since(cb.lastFailure) >= cb.recoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != CircuitOpen
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure; reaching the threshold (or failing the
// half-open trial) opens the breaker and resets the recovery clock.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	wasHalfOpen := cb.stateLocked() == CircuitHalfOpen
	cb.failures++
	cb.lastFailure = time.Now()
	if wasHalfOpen || cb.failures >= cb.threshold {
		if cb.state != CircuitOpen {
			fs.Logf(nil, "circuit breaker opened for %s after %d failures (threshold %d)",
				cb.service, cb.failures, cb.threshold)
		}
		cb.state = CircuitOpen
	}
}

// Service returns the guarded collaborator's name.
func (cb *CircuitBreaker) Service() string { return cb.service }
