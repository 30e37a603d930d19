package pluginrt

import (
	"github.com/lynxforge/pluginrt/bus"
	"github.com/lynxforge/pluginrt/plugins"
	"github.com/lynxforge/pluginrt/resource"
)

// runtimeImpl is the concrete plugins.Runtime handed to a plugin's
// Initialize call: a narrow, per-plugin view onto the manager's resource
// manager and message bus, so the plugin never reaches into manager-owned
// state directly, per spec.md §3's ownership rule.
type runtimeImpl struct {
	pluginID  string
	resources *resource.Manager
	bus       *bus.Bus
	logf      func(format string, args ...any)
}

func (r *runtimeImpl) PluginID() string { return r.pluginID }

func (r *runtimeImpl) Resources() plugins.ResourceAccessor {
	return resourceAccessor{pluginID: r.pluginID, mgr: r.resources}
}

func (r *runtimeImpl) Bus() plugins.BusAccessor {
	return busAccessor{pluginID: r.pluginID, bus: r.bus}
}

func (r *runtimeImpl) Logf(format string, args ...any) {
	if r.logf != nil {
		r.logf(format, args...)
	}
}

// resourceAccessor adapts *resource.Manager to plugins.ResourceAccessor,
// binding every call to the owning plugin's id so a plugin can never
// acquire or release on another plugin's behalf.
type resourceAccessor struct {
	pluginID string
	mgr      *resource.Manager
}

func (r resourceAccessor) Acquire(poolName string, priority int) (handle any, res any, err error) {
	h, inst, aerr := r.mgr.Acquire(poolName, r.pluginID, resource.Priority(priority))
	if aerr != nil {
		return nil, nil, aerr
	}
	return h, inst, nil
}

func (r resourceAccessor) Release(handle any) error {
	h, ok := handle.(*resource.Handle)
	if !ok {
		return plugins.New(plugins.InvalidArgument, "handle is not a resource handle")
	}
	return r.mgr.Release(h)
}

// busAccessor adapts *bus.Bus to plugins.BusAccessor, stamping the owning
// plugin id as sender/subscriber so plugins cannot spoof another
// subscriber's identity.
type busAccessor struct {
	pluginID string
	bus      *bus.Bus
}

func (b busAccessor) Publish(messageType string, payload any) error {
	return b.bus.Publish(&bus.Message{Type: messageType, SenderID: b.pluginID, Payload: payload}, bus.Broadcast, nil)
}

func (b busAccessor) Subscribe(messageType string, handler func(sender string, payload any)) error {
	return b.bus.Subscribe(b.pluginID, messageType, handler, nil)
}

func (b busAccessor) Unsubscribe(messageType string) error {
	return b.bus.Unsubscribe(b.pluginID, messageType)
}
