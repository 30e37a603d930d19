package plugins

import "context"

// Plugin is the polymorphic contract every plugin satisfies: identity,
// lifecycle, configuration, command dispatch, diagnostic reporting. Grounded
// on the teacher's plugins/plugin.go Plugin/Lifecycle/ConfigProvider/
// DependencyAware/EventHandler interfaces, collapsed into one interface set
// since spec.md §2 component 3 describes a single contract, not a family of
// optional generic variants.
type Plugin interface {
	// ID returns the stable identifier matching Metadata().ID.
	ID() string

	// Metadata returns the plugin's declarative descriptor.
	Metadata() *Metadata

	// Initialize prepares the plugin to run. Called while transitioning
	// Loaded/Reloading -> Initializing. Must respect ctx cancellation.
	Initialize(ctx context.Context, rt Runtime) error

	// Start begins normal operation. Called while transitioning
	// Initializing -> Running, or Paused -> Running on resume.
	Start(ctx context.Context) error

	// Stop halts normal operation. Called while transitioning
	// Running/Paused -> Stopping.
	Stop(ctx context.Context) error

	// Shutdown releases all resources. Called after Stop, during the final
	// Stopping -> Stopped/Unloaded transition.
	Shutdown(ctx context.Context) error

	// Health reports current diagnostic status.
	Health() HealthReport
}

// Suspendable is implemented by plugins that support Pause/Resume, the
// Running <-> Paused transitions of spec.md §4.1's table.
type Suspendable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Configurable is implemented by plugins accepting host-provided
// configuration, per spec.md §6.
type Configurable interface {
	DefaultConfiguration() map[string]any
	ValidateConfiguration(cfg map[string]any) error
	Configure(cfg map[string]any) error
	CurrentConfiguration() map[string]any
}

// CommandHandler is implemented by plugins that accept command dispatch,
// per spec.md §6.
type CommandHandler interface {
	ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error)
	AvailableCommands() []string
}

// EventHandler is an optional interface for plugins that observe
// manager-level events (other plugins loading, resource state changes, …).
// The Manager does not call HandleEvent itself; it delivers events only to
// Listeners registered through Manager.Subscribe.
type EventHandler interface {
	HandleEvent(e *Event)
}

// MetricsGatherer is implemented by plugins that expose Prometheus metrics,
// auto-registered on load per SPEC_FULL.md's domain-stack wiring.
type MetricsGatherer interface {
	Gather() (map[string]float64, error)
}

// Runtime is the composite facility handed to a plugin's Initialize call: a
// narrow view onto the manager's resource manager, message bus, logger, and
// its own plugin id, so the plugin never reaches into manager-owned state
// directly (spec.md §3's ownership rule).
type Runtime interface {
	PluginID() string
	Resources() ResourceAccessor
	Bus() BusAccessor
	Logf(format string, args ...any)
}

// ResourceAccessor is the narrow resource-manager surface a Runtime exposes
// to a plugin; the concrete type lives in package resource and implements
// this interface to avoid an import cycle between plugins and resource.
type ResourceAccessor interface {
	Acquire(poolName string, priority int) (handle any, resource any, err error)
	Release(handle any) error
}

// BusAccessor is the narrow message-bus surface a Runtime exposes to a
// plugin; the concrete type lives in package bus.
type BusAccessor interface {
	Publish(messageType string, payload any) error
	Subscribe(messageType string, handler func(sender string, payload any)) error
	Unsubscribe(messageType string) error
}
