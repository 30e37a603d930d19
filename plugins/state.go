package plugins

// State is the closed set of lifecycle states a PluginRecord can occupy,
// per spec.md §3/§4.1.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Initializing
	Running
	Paused
	Stopping
	Stopped
	Error
	Reloading
)

var stateNames = map[State]string{
	Unloaded:     "Unloaded",
	Loading:      "Loading",
	Loaded:       "Loaded",
	Initializing: "Initializing",
	Running:      "Running",
	Paused:       "Paused",
	Stopping:     "Stopping",
	Stopped:      "Stopped",
	Error:        "Error",
	Reloading:    "Reloading",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Event is the set of transition triggers in the state-machine table of
// spec.md §4.1. Named "Trigger" to avoid colliding with plugins.Event
// (the notification type) in this package.
type Trigger int

const (
	TriggerInitialize Trigger = iota
	TriggerStart
	TriggerStop
	TriggerPause
	TriggerShutdown
	TriggerReload
	TriggerError
)

// transitions encodes spec.md §4.1's table exactly: state × trigger → next
// state. A missing entry means the trigger is invalid from that state and
// must fail with StateError.
var transitions = map[State]map[Trigger]State{
	Loaded: {
		TriggerInitialize: Initializing,
		TriggerShutdown:   Unloaded,
		TriggerReload:     Reloading,
		TriggerError:      Error,
	},
	Initializing: {
		TriggerShutdown: Stopping,
		TriggerError:    Error,
	},
	Running: {
		TriggerStop:     Stopping,
		TriggerPause:    Paused,
		TriggerShutdown: Stopping,
		TriggerReload:   Reloading,
		TriggerError:    Error,
	},
	Paused: {
		TriggerStart:    Running,
		TriggerStop:     Stopping,
		TriggerShutdown: Stopping,
		TriggerError:    Error,
	},
	Stopping: {
		TriggerError: Error,
	},
	Stopped: {
		TriggerShutdown: Unloaded,
		TriggerReload:   Reloading,
		TriggerError:    Error,
	},
	Error: {
		TriggerShutdown: Unloaded,
		TriggerReload:   Reloading,
	},
	Reloading: {
		TriggerInitialize: Initializing,
		TriggerShutdown:   Stopping,
		TriggerError:      Error,
	},
}

// Next returns the state reached by applying trigger from from, and whether
// that transition is valid. An invalid transition must be surfaced by the
// caller as a StateError, per spec.md §4.1.
func Next(from State, trigger Trigger) (State, bool) {
	table, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := table[trigger]
	return to, ok
}
