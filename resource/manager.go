package resource

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lynxforge/pluginrt/plugins"
)

// pool is a named group of resources of one type, bounded by a Quota. One
// reader/writer lock protects the manager's pool registry (structural
// changes); each pool has its own lock serializing acquire/release, per
// spec.md §5's concurrency discipline.
type pool struct {
	name     string
	typ      Type
	quota    Quota
	factory  Factory

	mu        sync.Mutex
	instances map[string]*allocation // allocation_id -> allocation
	byPlugin  map[string]map[string]bool // plugin_id -> set of allocation_id
	memUsed   int64
}

type allocation struct {
	handle   *Handle
	resource any
	cost     int64
}

// Manager owns every Handle until release, per spec.md §3's ownership rule.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*pool

	subMu sync.Mutex
	subs  map[string]*subscription
	nextSub uint64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}

	cleanupCount int64

	// isRegistered reports whether a plugin id is still a registered
	// plugin; the cleanup sweep releases resources owned by plugins that
	// are no longer registered, per spec.md §4.4.
	isRegistered func(pluginID string) bool
}

// NewManager constructs a Manager. isRegistered may be nil, in which case
// the "owning plugin no longer registered" cleanup rule never fires (useful
// for standalone tests of the pool/quota mechanics).
func NewManager(cleanupInterval time.Duration, isRegistered func(string) bool) *Manager {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Second
	}
	m := &Manager{
		pools:           make(map[string]*pool),
		subs:            make(map[string]*subscription),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		isRegistered:    isRegistered,
	}
	go m.cleanupLoop()
	return m
}

// Close stops the background cleanup task. Safe to call once.
func (m *Manager) Close() {
	close(m.stopCleanup)
	<-m.cleanupDone
}

// CreatePool registers a new named pool of one resource type.
func (m *Manager) CreatePool(typ Type, name string, quota Quota, factory Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[name]; exists {
		return plugins.Newf(plugins.AlreadyExists, "resource pool %q already exists", name)
	}
	m.pools[name] = &pool{
		name:      name,
		typ:       typ,
		quota:     quota,
		factory:   factory,
		instances: make(map[string]*allocation),
		byPlugin:  make(map[string]map[string]bool),
	}
	return nil
}

// RemovePool deletes a pool. Active allocations in the pool are not
// released automatically; callers should drain with ListActive/Release
// first if that is required.
func (m *Manager) RemovePool(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[name]; !exists {
		return plugins.Newf(plugins.NotFound, "resource pool %q does not exist", name)
	}
	delete(m.pools, name)
	return nil
}

func (m *Manager) getPool(name string) (*pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, plugins.Newf(plugins.NotFound, "resource pool %q does not exist", name)
	}
	return p, nil
}

// Acquire obtains a resource from the named pool for pluginID, enforcing
// quotas in the order spec.md §4.4 specifies: instance count, then the
// plugin's estimated memory cost in this pool, then factory capability. A
// pool with no factory at all is rejected before the cost check, since the
// cost is estimated by the factory.
func (m *Manager) Acquire(poolName string, pluginID string, priority Priority) (*Handle, any, error) {
	p, err := m.getPool(poolName)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	count := len(p.byPlugin[pluginID])
	if p.quota.MaxInstances > 0 && count >= p.quota.MaxInstances {
		return nil, nil, plugins.Newf(plugins.ResourceExhausted, "plugin %s exceeded max_instances=%d for pool %s", pluginID, p.quota.MaxInstances, poolName)
	}

	handle := &Handle{
		AllocationID: uuid.NewString(),
		Type:         p.typ,
		PluginID:     pluginID,
		Priority:     priority,
		acquiredAt:   time.Now(),
		poolName:     poolName,
	}

	if p.factory == nil {
		return nil, nil, plugins.Newf(plugins.ResourceUnavailable, "pool %s has no factory", poolName)
	}

	var pluginMem int64
	for allocID := range p.byPlugin[pluginID] {
		if a, ok := p.instances[allocID]; ok {
			pluginMem += a.cost
		}
	}
	cost := p.factory.EstimatedCost(handle)
	if p.quota.MaxMemoryBytes > 0 && pluginMem+cost > p.quota.MaxMemoryBytes {
		return nil, nil, plugins.Newf(plugins.ResourceExhausted, "plugin %s would exceed max_memory_bytes for pool %s", pluginID, poolName)
	}

	if !p.factory.CanCreate(handle) {
		return nil, nil, plugins.Newf(plugins.ResourceUnavailable, "pool %s's factory cannot produce this resource", poolName)
	}

	instance, err := p.factory.Create(handle)
	if err != nil {
		return nil, nil, plugins.Newf(plugins.ResourceUnavailable, "factory failed to create resource: %v", err)
	}

	p.instances[handle.AllocationID] = &allocation{handle: handle, resource: instance, cost: cost}
	if p.byPlugin[pluginID] == nil {
		p.byPlugin[pluginID] = make(map[string]bool)
	}
	p.byPlugin[pluginID][handle.AllocationID] = true
	p.memUsed += cost

	m.notify(Notification{Handle: handle, OldState: "", NewState: StateInUse})

	return handle, instance, nil
}

// Release returns a resource to its pool, invoking the factory's Close.
func (m *Manager) Release(h *Handle) error {
	p, err := m.getPool(h.poolName)
	if err != nil {
		return err
	}

	p.mu.Lock()
	alloc, ok := p.instances[h.AllocationID]
	if !ok {
		p.mu.Unlock()
		return plugins.Newf(plugins.NotFound, "allocation %s not found in pool %s", h.AllocationID, h.poolName)
	}
	delete(p.instances, h.AllocationID)
	if set := p.byPlugin[h.PluginID]; set != nil {
		delete(set, h.AllocationID)
		if len(set) == 0 {
			delete(p.byPlugin, h.PluginID)
		}
	}
	p.memUsed -= alloc.cost
	p.mu.Unlock()

	var closeErr error
	if p.factory != nil {
		closeErr = p.factory.Close(alloc.resource)
	}

	m.notify(Notification{Handle: h, OldState: StateInUse, NewState: StateAvailable})
	return closeErr
}

// ListActive returns the allocation ids currently held by pluginID across
// all pools.
func (m *Manager) ListActive(pluginID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, p := range m.pools {
		p.mu.Lock()
		for id := range p.byPlugin[pluginID] {
			ids = append(ids, id)
		}
		p.mu.Unlock()
	}
	return ids
}

// Stats is a usage snapshot for a (type, plugin) scope.
type Stats struct {
	ActiveCount int
	MemoryUsed  int64
}

// UsageStats aggregates active allocations and memory usage, optionally
// filtered by resource type and/or plugin id (either may be zero-valued to
// mean "all").
func (m *Manager) UsageStats(typ Type, pluginID string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	for _, p := range m.pools {
		if typ != "" && p.typ != typ {
			continue
		}
		p.mu.Lock()
		if pluginID == "" {
			s.ActiveCount += len(p.instances)
			s.MemoryUsed += p.memUsed
		} else {
			s.ActiveCount += len(p.byPlugin[pluginID])
			for id := range p.byPlugin[pluginID] {
				s.MemoryUsed += p.instances[id].cost
			}
		}
		p.mu.Unlock()
	}
	return s
}

// Subscribe registers cb for resource state-change notifications matching
// the optional type/plugin filters, returning an opaque id for
// cancellation, per spec.md §4.4.
func (m *Manager) Subscribe(cb Callback, typeFilter *Type, pluginFilter *string) string {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSub++
	id := uuid.NewString()
	m.subs[id] = &subscription{id: id, cb: cb, typeFilter: typeFilter, pluginFilter: pluginFilter}
	return id
}

// CancelSubscription removes a subscription by id.
func (m *Manager) CancelSubscription(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subs, id)
}

// notify copies the subscriber snapshot under lock, then invokes callbacks
// outside the lock, per spec.md §4.4/§5 ("Callbacks run on the notifier's
// caller, never while the manager's exclusive lock is held").
func (m *Manager) notify(n Notification) {
	m.subMu.Lock()
	snapshot := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		snapshot = append(snapshot, s)
	}
	m.subMu.Unlock()

	for _, s := range snapshot {
		if s.matches(n) {
			s.cb(n)
		}
	}
}

// cleanupLoop is the background periodic task releasing resources whose
// age exceeds quota.MaxLifetime or whose owning plugin is no longer
// registered, per spec.md §4.4.
func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			released := m.sweep()
			if released > 0 {
				atomic.AddInt64(&m.cleanupCount, int64(released))
				m.notify(Notification{Handle: &Handle{}, OldState: StateInUse, NewState: StateCleanup, Count: released})
			}
		}
	}
}

func (m *Manager) sweep() int {
	m.mu.RLock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	released := 0
	now := time.Now()
	for _, p := range pools {
		var expired []*Handle
		p.mu.Lock()
		for _, alloc := range p.instances {
			h := alloc.handle
			expiredByAge := p.quota.MaxLifetime > 0 && now.Sub(h.acquiredAt) > p.quota.MaxLifetime
			expiredByOwner := m.isRegistered != nil && !m.isRegistered(h.PluginID)
			if expiredByAge || expiredByOwner {
				expired = append(expired, h)
			}
		}
		p.mu.Unlock()

		for _, h := range expired {
			if err := m.Release(h); err == nil {
				released++
			}
		}
	}
	return released
}

// CleanupCount returns the total number of resources released by the
// background sweep so far, surfaced through system_metrics().
func (m *Manager) CleanupCount() int64 {
	return atomic.LoadInt64(&m.cleanupCount)
}

// PoolSummary is one pool's identity and current occupancy, the shape
// system_metrics()'s resource_pools array reports, per spec.md §6.
type PoolSummary struct {
	Name   string
	Type   Type
	Active int
}

// PoolSummaries returns every pool's name, type, and active allocation
// count, sorted by name for deterministic output.
func (m *Manager) PoolSummaries() []PoolSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PoolSummary, 0, len(m.pools))
	for _, p := range m.pools {
		p.mu.Lock()
		out = append(out, PoolSummary{Name: p.name, Type: p.typ, Active: len(p.instances)})
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
