// This file (recovery.go) implements the supplemental per-plugin circuit
// breaker around execute_command described in SPEC_FULL.md: repeated
// command failures trip the breaker so a misbehaving plugin's command
// surface stops being hammered while it recovers.
//
// Grounded on the teacher's recovery.go CircuitBreaker (CanExecute/
// RecordResult/state machine), adapted from a manager-wide breaker to one
// instance per plugin id, kept in the Manager's breakers map.
package pluginrt

import (
	"sync"
	"time"
)

// CircuitState is the breaker's own three-state machine, independent of
// plugins.State.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker guards execute_command for one plugin: after threshold
// consecutive failures it opens and rejects calls until timeout elapses,
// then lets calls through (half-open) until the next recorded result: a
// success closes it, a failure opens it again. Half-open does not limit
// how many calls pass before that result arrives.
type CircuitBreaker struct {
	mu           sync.RWMutex
	state        CircuitState
	failureCount int
	lastFailure  time.Time
	threshold    int
	timeout      time.Duration
}

// NewCircuitBreaker constructs a closed breaker with the given failure
// threshold and open-state timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{state: CircuitClosed, threshold: threshold, timeout: timeout}
}

// CanExecute reports whether a call is currently permitted through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordResult feeds back the outcome of a call permitted by CanExecute.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailure = time.Now()
		if cb.state == CircuitClosed && cb.failureCount >= cb.threshold {
			cb.state = CircuitOpen
		} else if cb.state == CircuitHalfOpen {
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
	cb.failureCount = 0
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
