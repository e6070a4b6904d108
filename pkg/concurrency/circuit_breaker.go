package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed lets runs through
	StateClosed CircuitBreakerState = 0

	// StateOpen rejects runs until the reset timeout elapses
	StateOpen CircuitBreakerState = 1

	// StateHalfOpen lets runs through while probing for recovery
	StateHalfOpen CircuitBreakerState = 2
)

// halfOpenSuccesses is the number of consecutive successes that close a
// half-open breaker.
const halfOpenSuccesses = 3

// CircuitBreaker stops admitting runs after repeated infrastructure failures,
// such as the execution archive being unreachable. Workflow failures are not
// infrastructure failures and must not be recorded here.
type CircuitBreaker struct {
	state                int32 // atomic: CircuitBreakerState
	consecutiveFailures  int64 // atomic
	consecutiveSuccesses int64 // atomic
	failureThreshold     int64
	resetTimeout         time.Duration
	lastFailureTime      int64 // atomic: Unix nano timestamp
	now                  func() time.Time
	mu                   sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker that opens after
// failureThreshold consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		state:            int32(StateClosed),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// IsOpen reports whether the breaker currently rejects runs. An open breaker
// whose reset timeout has elapsed moves to half-open and admits again.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.GetState() != StateOpen {
		return false
	}

	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	if lastFailure > 0 && cb.now().Sub(time.Unix(0, lastFailure)) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a run whose infrastructure calls all succeeded
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.consecutiveFailures, 0)

	if cb.GetState() == StateHalfOpen {
		if atomic.AddInt64(&cb.consecutiveSuccesses, 1) >= halfOpenSuccesses {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records an infrastructure failure
func (cb *CircuitBreaker) RecordFailure() {
	state := cb.GetState()

	atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt64(&cb.lastFailureTime, cb.now().UnixNano())
	failures := atomic.AddInt64(&cb.consecutiveFailures, 1)

	switch {
	case state == StateClosed && failures >= cb.failureThreshold:
		cb.transitionTo(StateOpen)
	case state == StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) GetConsecutiveFailures() int64 {
	return atomic.LoadInt64(&cb.consecutiveFailures)
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	atomic.StoreInt64(&cb.consecutiveFailures, 0)
	atomic.StoreInt64(&cb.lastFailureTime, 0)
}

func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) == newState {
		return
	}
	atomic.StoreInt32(&cb.state, int32(newState))

	switch newState {
	case StateClosed:
		atomic.StoreInt64(&cb.consecutiveFailures, 0)
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	}
}

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}
