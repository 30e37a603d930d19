package pluginrt

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !cb.CanExecute() {
			t.Fatalf("call %d: expected closed breaker to permit execution", i)
		}
		cb.RecordResult(errors.New("boom"))
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want CircuitOpen after %d consecutive failures", cb.State(), 3)
	}
	if cb.CanExecute() {
		t.Fatal("expected open breaker to reject a call before its timeout elapses")
	}
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.CanExecute()
	cb.RecordResult(errors.New("boom"))
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want CircuitOpen", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected breaker to allow a trial call once its timeout has elapsed")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want CircuitHalfOpen", cb.State())
	}
}

func TestCircuitBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.CanExecute()
	cb.RecordResult(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected half-open trial call to be permitted")
	}
	cb.RecordResult(nil)

	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want CircuitClosed after a successful trial call", cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.CanExecute()
	cb.RecordResult(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)
	cb.CanExecute() // moves to half-open
	cb.RecordResult(errors.New("still broken"))

	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want CircuitOpen after a failed trial call", cb.State())
	}
}
