package plugins

import "testing"

func TestStateMachineValidPaths(t *testing.T) {
	// First step of the S1-style happy path: Loaded + initialize ->
	// Initializing. The following Initializing -> Running step has no table
	// entry; the manager sets Running itself after a successful Start.
	s := Loaded
	next, ok := Next(s, TriggerInitialize)
	if !ok || next != Initializing {
		t.Fatalf("Loaded+initialize = %v,%v; want Initializing,true", next, ok)
	}
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	if _, ok := Next(Unloaded, TriggerInitialize); ok {
		t.Error("expected Unloaded+initialize to be invalid")
	}
	if _, ok := Next(Stopping, TriggerStart); ok {
		t.Error("expected Stopping+start to be invalid")
	}
}

func TestStateMachinePauseResume(t *testing.T) {
	next, ok := Next(Running, TriggerPause)
	if !ok || next != Paused {
		t.Fatalf("Running+pause = %v,%v; want Paused,true", next, ok)
	}
	next, ok = Next(Paused, TriggerStart)
	if !ok || next != Running {
		t.Fatalf("Paused+start = %v,%v; want Running,true", next, ok)
	}
}

func TestStateMachineErrorReachableFromMostStates(t *testing.T) {
	for _, s := range []State{Loaded, Initializing, Running, Paused, Stopping, Stopped} {
		if _, ok := Next(s, TriggerError); !ok {
			t.Errorf("expected %v+error to be valid", s)
		}
	}
}
