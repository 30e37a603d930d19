package plugins

import "time"

// EventType identifies the kind of notification the manager or a subsystem
// emits to observers. Trimmed from the teacher's much larger
// lifecycle/upgrade/rollback taxonomy (plugins/events.go) to the subset this
// spec's components actually raise: this runtime has no plugin-upgrade
// feature beyond reload.
type EventType string

const (
	EventPluginLoading      EventType = "plugin.loading"
	EventPluginLoaded       EventType = "plugin.loaded"
	EventPluginInitializing EventType = "plugin.initializing"
	EventPluginInitialized  EventType = "plugin.initialized"
	EventPluginStarting     EventType = "plugin.starting"
	EventPluginStarted      EventType = "plugin.started"
	EventPluginStopping     EventType = "plugin.stopping"
	EventPluginStopped      EventType = "plugin.stopped"
	EventPluginPaused       EventType = "plugin.paused"
	EventPluginResumed      EventType = "plugin.resumed"
	EventPluginUnloaded     EventType = "plugin.unloaded"
	EventPluginReloading    EventType = "plugin.reloading"
	EventPluginError        EventType = "plugin.error"

	EventResourceAvailable EventType = "resource.available"
	EventResourceInUse     EventType = "resource.in_use"
	EventResourceReserved  EventType = "resource.reserved"
	EventResourceCleanup   EventType = "resource.cleanup"
	EventResourceError     EventType = "resource.error"

	EventSecurityViolation EventType = "security.violation"
	EventDependencyMissing EventType = "dependency.missing"
	EventDependencyCycle   EventType = "dependency.cycle"
)

// Priority level of an emitted event, independent of plugin Priority.
type EventPriority int

const (
	EventPriorityLow EventPriority = iota
	EventPriorityNormal
	EventPriorityHigh
	EventPriorityCritical
)

// Event is one notification instance. Metadata carries type-specific
// key/value context (e.g. "took_ms", "timeout_ms", "old_state").
type Event struct {
	Type      EventType
	PluginID  string
	Priority  EventPriority
	Timestamp time.Time
	Metadata  map[string]any
}

// Filter selects a subset of events an observer wants delivered.
type Filter struct {
	Types      []EventType
	Priorities []EventPriority
	PluginIDs  []string
	FromTime   time.Time
	ToTime     time.Time
}

// Matches reports whether e passes f. A zero-value Filter matches everything.
func (f *Filter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, e.Priority) {
		return false
	}
	if len(f.PluginIDs) > 0 && !containsString(f.PluginIDs, e.PluginID) {
		return false
	}
	if !f.FromTime.IsZero() && e.Timestamp.Before(f.FromTime) {
		return false
	}
	if !f.ToTime.IsZero() && e.Timestamp.After(f.ToTime) {
		return false
	}
	return true
}

func containsType(s []EventType, v EventType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsPriority(s []EventPriority, v EventPriority) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Listener receives events matching its filter. Implementations must not
// block the emitter; long work should be handed off to a goroutine.
type Listener interface {
	OnEvent(e *Event)
	EventFilter() *Filter
}

// Emitter is satisfied by anything that can broadcast events to registered
// listeners (the Manager). The Resource Manager has its own callback-based
// Subscribe and does not implement this interface.
type Emitter interface {
	Subscribe(l Listener) (id string)
	Unsubscribe(id string)
	Emit(e *Event)
}
