package plugins

import (
	"errors"
	"testing"
)

func TestErrorCanonicalString(t *testing.T) {
	e := New(NotFound, "plugin missing").WithDetails("id=foo")
	want := "NotFound: plugin missing [id=foo]"
	if got := e.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrorEquality(t *testing.T) {
	a := New(NotFound, "x").WithDetails("y")
	b := New(NotFound, "x").WithDetails("y")
	c := New(NotFound, "x").WithDetails("z")
	if !a.Equal(b) {
		t.Error("expected equal errors to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected errors with different details to differ")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	e := Newf(DependencyMissing, "missing %s", "a")
	if !errors.Is(e, New(DependencyMissing, "")) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(e, New(NotFound, "")) {
		t.Error("expected errors.Is to not match a different code")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := New(ExecutionFailed, "wrapped").WithCause(cause)
	if errors.Unwrap(e) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestAsError(t *testing.T) {
	e := New(LoadFailed, "boom")
	pe, ok := AsError(e)
	if !ok || pe.Code != LoadFailed {
		t.Error("expected AsError to find the wrapped *Error")
	}
	if _, ok := AsError(errors.New("plain")); ok {
		t.Error("expected AsError to fail on a non-Error")
	}
}
