package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("meta", 3, 30*time.Second)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("meta", 3, 30*time.Second)

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("meta", 3, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	// the run starts over
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("meta", 2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker("meta", 2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("meta", 2, 50*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// one failed trial re-opens immediately and resets the clock
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}
