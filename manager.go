package pluginrt

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/lynxforge/pluginrt/bus"
	"github.com/lynxforge/pluginrt/loader"
	"github.com/lynxforge/pluginrt/plugins"
	"github.com/lynxforge/pluginrt/resource"
	"github.com/lynxforge/pluginrt/security"
)

// Manager is the plugin runtime's single entry point: it composes the
// loader, security validator, resource manager, and message bus, owns the
// plugin registry, and drives the lifecycle state machine, per spec.md §2
// component 8 / §4.1.
//
// Grounded on the teacher's app/plugin_manager.go DefaultPluginManager
// (sync.Map-backed registry, per-call runtime injection, Initialize->Start
// sequencing), consolidated with root lifecycle.go/topology.go/recovery.go
// as described in DESIGN.md's consolidation note — this module collapses
// the teacher's three overlapping plugin-manager implementations into one.
type Manager struct {
	cfg         Config
	hostVersion *plugins.Version
	log         *kratoslog.Helper

	mu          sync.RWMutex
	registry    map[string]*plugins.Record
	recordLocks map[string]*sync.Mutex

	validator    *security.Validator
	resources    *resource.Manager
	msgBus       *bus.Bus
	loaders      *loader.Factory
	activeLoader loader.Loader

	searchMu    sync.Mutex
	searchPaths []string

	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker

	listenersMu sync.Mutex
	listeners   map[string]plugins.Listener
	nextListen  uint64

	metricsRegistry *prometheus.Registry
	metricsMu       sync.Mutex
	gatherers       map[string]prometheus.Collector

	tracer   oteltrace.Tracer
	profiler *plugins.Profiler

	validationsPerformed int64
	validationsPassed    int64
	validationsFailed    int64
}

// New constructs a Manager. loaders may be nil, in which case a fresh
// factory pre-seeded with the bundled default loader is used, per spec.md
// §9's "tests must be able to instantiate a manager without touching
// global state — inject a loader factory."
func New(cfg Config, loaders *loader.Factory) (*Manager, error) {
	cfg.applyDefaults()
	hv, verr := cfg.hostVersion()
	if verr != nil {
		return nil, verr
	}

	if loaders == nil {
		loaders = loader.NewFactory()
	}

	m := &Manager{
		cfg:         cfg,
		hostVersion: hv,
		log:         kratoslog.NewHelper(cfg.Logger),
		registry:    make(map[string]*plugins.Record),
		recordLocks: make(map[string]*sync.Mutex),
		validator:   security.New(cfg.Security),
		msgBus:      bus.New(),
		loaders:     loaders,
		breakers:        make(map[string]*CircuitBreaker),
		listeners:       make(map[string]plugins.Listener),
		metricsRegistry: prometheus.NewRegistry(),
		gatherers:       make(map[string]prometheus.Collector),
		tracer:          otel.Tracer("github.com/lynxforge/pluginrt"),
		profiler:        plugins.NewProfiler(100),
	}
	if cfg.LoaderName != "" {
		active, err := loaders.Create(cfg.LoaderName)
		if err != nil {
			return nil, err
		}
		m.activeLoader = active
	} else {
		m.activeLoader = loaders.CreateDefault()
	}
	m.resources = resource.NewManager(cfg.ResourceCleanupInterval, m.isRegistered)
	return m, nil
}

// Close releases the resource manager's background cleanup goroutine.
// Should be called once the manager is no longer needed, after ShutdownAll.
func (m *Manager) Close() {
	m.resources.Close()
}

// Bus exposes the message bus for host code that needs to publish or
// subscribe outside of a plugin's own Runtime (e.g. host-side observers).
func (m *Manager) Bus() *bus.Bus { return m.msgBus }

// Resources exposes the resource manager for host-side pool configuration
// (CreatePool must be called by host code before any plugin can Acquire).
func (m *Manager) Resources() *resource.Manager { return m.resources }

func (m *Manager) isRegistered(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registry[id]
	return ok
}

// recordLock returns the per-record lock for id, creating it if absent.
// Per spec.md §5, this lock is never taken while holding the registry's
// write lock except during registration itself.
func (m *Manager) recordLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.recordLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.recordLocks[id] = l
	}
	return l
}

// withRecord locates id's record, takes its per-record lock (never the
// registry lock) for the duration of fn, and runs fn against it.
func (m *Manager) withRecord(id string, fn func(rec *plugins.Record) *plugins.Error) *plugins.Error {
	m.mu.RLock()
	rec, ok := m.registry[id]
	m.mu.RUnlock()
	if !ok {
		return plugins.Newf(plugins.NotFound, "plugin %s is not registered", id)
	}
	lock := m.recordLock(id)
	lock.Lock()
	defer lock.Unlock()
	return fn(rec)
}

// GetPlugin returns the record for id, and whether it exists.
func (m *Manager) GetPlugin(id string) (*plugins.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.registry[id]
	return rec, ok
}

// AllPluginInfo returns every registered record, sorted by id for
// deterministic output.
func (m *Manager) AllPluginInfo() []*plugins.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*plugins.Record, 0, len(m.registry))
	for _, rec := range m.registry {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedPlugins returns the ids of every registered plugin, sorted.
func (m *Manager) LoadedPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PluginProfile returns the call count and average latency invokeTimed has
// recorded for pluginID's operation (one of "initialize", "start", "stop",
// "execute_command", ...), or zero values if no call has completed yet.
func (m *Manager) PluginProfile(pluginID, operation string) (count int, avg time.Duration) {
	return m.profiler.Stats(pluginID, operation)
}

// AddSearchPath registers a directory Discover will scan in addition to
// any explicitly passed root.
func (m *Manager) AddSearchPath(path string) {
	m.searchMu.Lock()
	defer m.searchMu.Unlock()
	m.searchPaths = append(m.searchPaths, path)
}

// Discover enumerates candidate plugin files below path (and below every
// registered search path) whose extension the active loader accepts, per
// spec.md §4.1's discover operation.
func (m *Manager) Discover(path string, recursive bool) ([]string, error) {
	roots := []string{path}
	m.searchMu.Lock()
	roots = append(roots, m.searchPaths...)
	m.searchMu.Unlock()

	var found []string
	seen := make(map[string]bool)
	for _, root := range roots {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(root, e.Name())
			if e.IsDir() {
				if recursive {
					sub, err := m.Discover(full, true)
					if err == nil {
						for _, s := range sub {
							if !seen[s] {
								seen[s] = true
								found = append(found, s)
							}
						}
					}
				}
				continue
			}
			if m.activeLoader.CanLoad(full) && !seen[full] {
				seen[full] = true
				found = append(found, full)
			}
		}
	}
	sort.Strings(found)
	return found, nil
}

// Configure applies cfg to a registered plugin implementing Configurable.
// Validation runs before Configure is invoked, per spec.md §6.
func (m *Manager) Configure(id string, cfg map[string]any) error {
	return toError(m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		configurable, ok := rec.Instance.(plugins.Configurable)
		if !ok {
			return plugins.Newf(plugins.NotImplemented, "plugin %s does not accept configuration", id)
		}
		if err := configurable.ValidateConfiguration(cfg); err != nil {
			pe := plugins.Newf(plugins.ConfigurationError, "configuration rejected for plugin %s: %v", id, err)
			rec.AppendError(pe)
			return pe
		}
		if err := configurable.Configure(cfg); err != nil {
			pe := plugins.Newf(plugins.ConfigurationError, "failed to apply configuration to plugin %s: %v", id, err)
			rec.AppendError(pe)
			return pe
		}
		rec.Configuration = cfg
		return nil
	}))
}

// breaker returns the per-plugin execute_command circuit breaker, creating
// one on first use.
func (m *Manager) breaker(id string) *CircuitBreaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	b, ok := m.breakers[id]
	if !ok {
		b = NewCircuitBreaker(m.cfg.CircuitBreakerThreshold, m.cfg.CircuitBreakerTimeout)
		m.breakers[id] = b
	}
	return b
}

// ExecuteCommand dispatches command to a registered plugin implementing
// CommandHandler, guarded by a per-plugin circuit breaker so a plugin
// whose command surface is repeatedly failing stops being hammered, per
// SPEC_FULL.md's supplemental resilience layer grounded on the teacher's
// recovery.go.
func (m *Manager) ExecuteCommand(ctx context.Context, id, command string, params map[string]any) (map[string]any, error) {
	cb := m.breaker(id)
	if !cb.CanExecute() {
		return nil, plugins.Newf(plugins.ResourceUnavailable, "command circuit open for plugin %s", id)
	}

	var result map[string]any
	perr := m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		handler, ok := rec.Instance.(plugins.CommandHandler)
		if !ok {
			return plugins.Newf(plugins.NotImplemented, "plugin %s does not accept commands", id)
		}
		if rec.State != plugins.Running {
			return plugins.Newf(plugins.StateError, "plugin %s is not running", id)
		}

		outErr := m.invokeTimed(ctx, m.cfg.StartTimeout, id, "execute_command", func(cctx context.Context) error {
			r, err := handler.ExecuteCommand(cctx, command, params)
			result = r
			return err
		})
		if outErr != nil {
			rec.AppendError(outErr)
			return outErr
		}
		return nil
	})

	if perr != nil {
		cb.RecordResult(perr)
		return nil, perr
	}
	cb.RecordResult(nil)
	return result, nil
}

// newRuntime constructs the narrow Runtime view handed to a plugin's
// Initialize call.
func (m *Manager) newRuntime(id string) plugins.Runtime {
	return &runtimeImpl{
		pluginID:  id,
		resources: m.resources,
		bus:       m.msgBus,
		logf: func(format string, args ...any) {
			m.log.Infof("[%s] "+format, append([]any{id}, args...)...)
		},
	}
}

// safeInvoke wraps a plugin callback so a panic never escapes into the
// manager, converting it into ExecutionFailed per spec.md §5's exception
// safety requirement.
func (m *Manager) safeInvoke(pluginID, op string, fn func() error) (perr *plugins.Error) {
	defer func() {
		if r := recover(); r != nil {
			perr = plugins.Newf(plugins.ExecutionFailed, "panic in plugin %s during %s: %v", pluginID, op, r).WithStack()
		}
	}()
	if err := fn(); err != nil {
		if pe, ok := plugins.AsError(err); ok {
			return pe
		}
		return plugins.Newf(plugins.ExecutionFailed, "plugin %s failed during %s: %v", pluginID, op, err)
	}
	return nil
}

// invokeTimed runs fn under a derived context with timeout, converting a
// context deadline into TimeoutError, per spec.md §5's cancellation and
// timeout rules. invokeTimed takes no lock itself and the registry lock is
// never held while fn runs; lifecycle operations call it from inside
// withRecord, so the plugin's own record lock is held for the duration of
// the callback. Each call is
// wrapped in its own span, named "pluginrt.<op>" and tagged with the
// plugin id, the same per-callback span-per-operation shape the teacher's
// tracer plugin establishes for its own request spans.
func (m *Manager) invokeTimed(ctx context.Context, timeout time.Duration, pluginID, op string, fn func(ctx context.Context) error) *plugins.Error {
	cctx, span := m.tracer.Start(ctx, "pluginrt."+op, oteltrace.WithAttributes(
		attribute.String("plugin.id", pluginID),
	))
	defer span.End()

	cctx, cancel := context.WithTimeout(cctx, timeout)
	defer cancel()
	defer m.profiler.Timer(pluginID, op)()

	done := make(chan *plugins.Error, 1)
	go func() {
		done <- m.safeInvoke(pluginID, op, func() error { return fn(cctx) })
	}()

	var perr *plugins.Error
	select {
	case perr = <-done:
	case <-cctx.Done():
		perr = plugins.Newf(plugins.TimeoutError, "plugin %s timed out during %s", pluginID, op)
	}

	if perr != nil {
		span.SetStatus(codes.Error, perr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return perr
}

// Subscribe registers l to receive lifecycle/resource/security events the
// manager emits, per spec.md §9's per-manager observer registry with
// explicit subscribe/unsubscribe. See Emit for which locks are held while
// listeners run.
func (m *Manager) Subscribe(l plugins.Listener) string {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextListen++
	id := "listener-" + itoa(m.nextListen)
	m.listeners[id] = l
	return id
}

// Unsubscribe removes a previously registered listener.
func (m *Manager) Unsubscribe(id string) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.listeners, id)
}

// Emit broadcasts e to every listener whose filter matches. Listeners run
// after the listener-table lock is released and never under the registry
// lock; events emitted from inside a lifecycle operation (initialize,
// start/resume, stop, pause) are delivered while that plugin's record lock
// is held.
func (m *Manager) Emit(e *plugins.Event) {
	m.listenersMu.Lock()
	snapshot := make([]plugins.Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		snapshot = append(snapshot, l)
	}
	m.listenersMu.Unlock()

	for _, l := range snapshot {
		if l.EventFilter().Matches(e) {
			l.OnEvent(e)
		}
	}
}

func (m *Manager) emit(typ plugins.EventType, pluginID string, meta map[string]any) {
	m.Emit(&plugins.Event{Type: typ, PluginID: pluginID, Timestamp: time.Now(), Metadata: meta})
}

// atomicAdd is a tiny helper kept local to avoid importing sync/atomic's
// generic helpers across every call site.
func atomicAdd(counter *int64, delta int64) { atomic.AddInt64(counter, delta) }

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// toError converts a possibly-nil *plugins.Error into a Go error, avoiding
// the classic nil-interface-wrapping-non-nil-typed-pointer hazard of
// returning *plugins.Error directly as an error.
func toError(p *plugins.Error) error {
	if p == nil {
		return nil
	}
	return p
}
