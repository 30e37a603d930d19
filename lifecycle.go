// This file (lifecycle.go) implements the load protocol of spec.md §4.1
// (resolve path -> read metadata and reject a duplicate id -> security
// validate -> host-version check -> dependency check -> instantiate ->
// register -> optional configure -> optional immediate initialize) and the
// public lifecycle operations that drive a registered plugin's state
// machine. Security validation runs after the metadata read, and receives
// that metadata; a file is therefore handed to the loader's ReadMetadata
// before it has been validated.
//
// Grounded on the teacher's root lifecycle.go for the mechanics (per-level
// parallel loading bounded by a semaphore, context-aware timeout wrapping,
// rollback on failure); the state machine table itself is spec.md §4.1's
// table, since the teacher's own state set lacks an explicit Paused/
// Reloading transition table.
package pluginrt

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lynxforge/pluginrt/plugins"
	"github.com/lynxforge/pluginrt/security"
)

// LoadOptions configures one load_plugin/load_plugins call, per spec.md §4.1.
type LoadOptions struct {
	Configuration map[string]any
	// InitializeImmediately drives the plugin straight through Loaded ->
	// Initializing -> Running as part of the load call.
	InitializeImmediately bool
	Timeout               time.Duration
	// RequiredSecurityLevel overrides the validator's configured level for
	// this one load; the zero value (security.LevelNone) means "use the
	// validator's configured level", per Validator.Validate's own contract.
	RequiredSecurityLevel security.Level
}

// LoadResult is one batch member's outcome, matching spec.md §7's
// "partial-success operations (batch load) return per-item results."
type LoadResult struct {
	Path string
	ID   string
	Err  error
}

// readCandidate performs load protocol steps 1-3: resolve the path, ask
// the loader whether it recognizes the extension, read embedded metadata,
// and reject an id already registered.
func (m *Manager) readCandidate(path string) (*plugins.Metadata, *plugins.Error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, plugins.Newf(plugins.FileNotFound, "cannot resolve path %q: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, plugins.Newf(plugins.FileSystemError, "%q is not a regular file", path)
	}
	if !m.activeLoader.CanLoad(path) {
		return nil, plugins.Newf(plugins.InvalidFormat, "no loader accepts %q", path)
	}

	meta, err := m.activeLoader.ReadMetadata(path)
	if err != nil {
		if pe, ok := plugins.AsError(err); ok {
			return nil, pe
		}
		return nil, plugins.Newf(plugins.LoadFailed, "failed to read metadata for %q: %v", path, err)
	}
	if m.isRegistered(meta.ID) {
		return nil, plugins.Newf(plugins.AlreadyLoaded, "plugin %s is already loaded", meta.ID)
	}
	return meta, nil
}

// finishLoad performs load protocol steps 4-9 given metadata already read
// by readCandidate: security validation, host-version check, dependency
// check (against the live registry plus extraRegistered, the batch members
// ordered earlier than this one), instantiation, registration, and the
// optional configure/initialize_immediately steps.
func (m *Manager) finishLoad(ctx context.Context, path string, meta *plugins.Metadata, opts LoadOptions, extraRegistered map[string]bool) (*plugins.Record, *plugins.Error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.LoadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := m.validator.Validate(path, meta.ID, meta, opts.RequiredSecurityLevel)
	atomicAdd(&m.validationsPerformed, 1)
	if !res.IsValid {
		atomicAdd(&m.validationsFailed, 1)
		return nil, plugins.Newf(plugins.SecurityViolation, "security validation failed for %s: %s", meta.ID, strings.Join(res.Errors, "; "))
	}
	atomicAdd(&m.validationsPassed, 1)

	if perr := m.checkHostVersion(meta); perr != nil {
		return nil, perr
	}

	for _, dep := range meta.Dependencies {
		if m.isRegistered(dep) || extraRegistered[dep] {
			continue
		}
		return nil, plugins.Newf(plugins.DependencyMissing, "plugin %s requires missing dependency %s", meta.ID, dep).WithDetails(dep)
	}

	instance, id, lerr := m.activeLoader.Load(path)
	if lerr != nil {
		if pe, ok := plugins.AsError(lerr); ok {
			return nil, pe
		}
		return nil, plugins.Newf(plugins.LoadFailed, "failed to load %q: %v", path, lerr)
	}

	if perr := m.checkDependencyAware(instance, extraRegistered); perr != nil {
		_ = m.activeLoader.Unload(id)
		return nil, perr
	}

	rec := &plugins.Record{
		ID:         id,
		FilePath:   path,
		Metadata:   meta,
		State:      plugins.Loaded,
		LoadTime:   time.Now(),
		Instance:   instance,
		Loader:     m.activeLoader,
		TrustLevel: res.ValidatedLevel.String(),
	}
	m.register(rec)
	m.registerGatherer(id, instance)
	m.emit(plugins.EventPluginLoaded, id, map[string]any{"path": path})

	if opts.Configuration != nil {
		if err := m.Configure(id, opts.Configuration); err != nil {
			m.rollbackRegistration(id)
			return nil, plugins.Newf(plugins.ConfigurationError, "configuration rejected during load of %s: %v", id, err)
		}
		rec.Configuration = opts.Configuration
	}

	if opts.InitializeImmediately {
		if err := m.Initialize(ctx, id); err != nil {
			m.rollbackRegistration(id)
			return nil, plugins.Newf(plugins.InitializationFailed, "initialization failed during load of %s: %v", id, err)
		}
	}

	return rec, nil
}

// checkDependencyAware runs any per-edge plugins.Checker a newly-instantiated
// plugin declares via plugins.DependencyAware, beyond the bare id-presence
// check already applied to meta.Dependencies. A dependency not yet
// registered in this manager (e.g. still loading earlier in the same batch)
// is skipped rather than failed, since finishLoad's own extraRegistered
// check already guarantees its id is present in the batch.
func (m *Manager) checkDependencyAware(instance plugins.Plugin, extraRegistered map[string]bool) *plugins.Error {
	da, ok := instance.(plugins.DependencyAware)
	if !ok {
		return nil
	}
	for _, dep := range da.Dependencies() {
		m.mu.RLock()
		rec, found := m.registry[dep.ID]
		m.mu.RUnlock()
		if !found {
			if dep.Optional || extraRegistered[dep.ID] {
				continue
			}
			return plugins.Newf(plugins.DependencyMissing, "dependency %s not yet available", dep.ID).WithDetails(dep.ID)
		}
		if dep.Checker == nil {
			continue
		}
		if !dep.Checker.Check(rec.Instance) {
			if dep.Optional {
				continue
			}
			return plugins.Newf(plugins.DependencyMissing, "dependency %s failed check: %s", dep.ID, dep.Checker.Description()).WithDetails(dep.ID)
		}
	}
	return nil
}

func (m *Manager) checkHostVersion(meta *plugins.Metadata) *plugins.Error {
	if m.hostVersion == nil {
		return nil
	}
	if meta.MinHostVersion != "" {
		minV, err := plugins.Parse(meta.MinHostVersion)
		if err == nil && m.hostVersion.Compare(minV) < 0 {
			return plugins.Newf(plugins.VersionMismatch, "host version %s is below %s's min_host_version %s", m.hostVersion, meta.ID, meta.MinHostVersion)
		}
	}
	if meta.MaxHostVersion != "" {
		maxV, err := plugins.Parse(meta.MaxHostVersion)
		if err == nil && m.hostVersion.Compare(maxV) >= 0 {
			return plugins.Newf(plugins.VersionMismatch, "host version %s does not satisfy %s's max_host_version %s", m.hostVersion, meta.ID, meta.MaxHostVersion)
		}
	}
	return nil
}

func (m *Manager) register(rec *plugins.Record) {
	m.mu.Lock()
	m.registry[rec.ID] = rec
	m.recordLocks[rec.ID] = &sync.Mutex{}
	m.mu.Unlock()
}

// rollbackRegistration undoes register() after a post-registration step
// (configure/initialize) fails during load, per spec.md §4.1 "any step
// failing aborts the load and leaves no trace of the plugin."
func (m *Manager) rollbackRegistration(id string) {
	m.unregisterGatherer(id)
	_ = m.activeLoader.Unload(id)
	m.mu.Lock()
	delete(m.registry, id)
	delete(m.recordLocks, id)
	m.mu.Unlock()
}

// LoadPlugin locates, validates, loads, and registers one plugin file, per
// spec.md §4.1.
func (m *Manager) LoadPlugin(ctx context.Context, path string, opts LoadOptions) (string, error) {
	meta, perr := m.readCandidate(path)
	if perr != nil {
		return "", perr
	}
	rec, perr := m.finishLoad(ctx, path, meta, opts, nil)
	if perr != nil {
		return "", perr
	}
	return rec.ID, nil
}

// LoadPlugins batch-loads paths with dependency ordering: plugins are
// loaded level-by-level (a level is a set whose required dependencies are
// already satisfied), with plugins in the same level loaded concurrently,
// bounded by Config.StartParallelism. Per spec.md §7, this is a
// partial-success operation: each path's outcome is reported independently
// in the returned slice.
func (m *Manager) LoadPlugins(ctx context.Context, paths []string, opts LoadOptions) ([]LoadResult, error) {
	results := make([]LoadResult, len(paths))
	var candidates []loadCandidate
	pathByID := make(map[string]string)
	idxByID := make(map[string]int)

	for i, path := range paths {
		results[i] = LoadResult{Path: path}
		meta, perr := m.readCandidate(path)
		if perr != nil {
			results[i].Err = perr
			continue
		}
		results[i].ID = meta.ID
		candidates = append(candidates, loadCandidate{id: meta.ID, meta: meta})
		pathByID[meta.ID] = path
		idxByID[meta.ID] = i
	}

	m.mu.RLock()
	registeredSnapshot := make(map[string]bool, len(m.registry))
	for id := range m.registry {
		registeredSnapshot[id] = true
	}
	m.mu.RUnlock()

	order, missingOptional, perr := resolveLoadOrder(candidates, registeredSnapshot)
	if perr != nil {
		for _, c := range candidates {
			i := idxByID[c.id]
			if results[i].Err == nil {
				results[i].Err = perr
			}
		}
		return results, perr
	}
	for _, id := range order {
		for _, dep := range missingOptional[id] {
			m.log.Warnf("plugin %s: optional dependency %s is not available", id, dep)
		}
	}

	byID := make(map[string]loadCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.id] = c
	}
	levels := computeLevels(order, byID, registeredSnapshot)

	maxLevel := 0
	for _, lv := range levels {
		if lv > maxLevel {
			maxLevel = lv
		}
	}
	groups := make([][]string, maxLevel+1)
	for _, id := range order {
		groups[levels[id]] = append(groups[levels[id]], id)
	}

	loadedThisBatch := make(map[string]bool)
	var loadedMu sync.Mutex

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		sem := make(chan struct{}, m.cfg.StartParallelism)
		var wg sync.WaitGroup
		for _, id := range group {
			id := id
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				loadedMu.Lock()
				extra := make(map[string]bool, len(loadedThisBatch))
				for k := range loadedThisBatch {
					extra[k] = true
				}
				loadedMu.Unlock()

				cand := byID[id]
				rec, perr := m.finishLoad(ctx, pathByID[id], cand.meta, opts, extra)
				i := idxByID[id]
				if perr != nil {
					results[i].Err = perr
					return
				}
				results[i].ID = rec.ID
				loadedMu.Lock()
				loadedThisBatch[id] = true
				loadedMu.Unlock()
			}()
		}
		wg.Wait()
	}

	return results, nil
}

// Initialize drives a Loaded or Reloading plugin to Running: the manager
// transitions to Initializing, invokes the plugin's Initialize, and on
// success completes the transition to Running in one step, per spec.md
// §4.1 step 9 ("transition through Initializing -> Running by calling the
// plugin's initialize"). On failure the record moves to Error.
func (m *Manager) Initialize(ctx context.Context, id string) error {
	return toError(m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		next, ok := plugins.Next(rec.State, plugins.TriggerInitialize)
		if !ok {
			return plugins.Newf(plugins.StateError, "cannot initialize plugin %s from state %s", id, rec.State)
		}
		rec.State = next

		plugin, ok := rec.Instance.(plugins.Plugin)
		if !ok {
			rec.State = plugins.Error
			return plugins.Newf(plugins.ExecutionFailed, "plugin %s does not implement the plugin contract", id)
		}

		rt := m.newRuntime(id)
		if perr := m.invokeTimed(ctx, m.cfg.InitTimeout, id, "initialize", func(cctx context.Context) error {
			return plugin.Initialize(cctx, rt)
		}); perr != nil {
			rec.AppendError(perr)
			rec.State = plugins.Error
			m.emit(plugins.EventPluginError, id, map[string]any{"operation": "initialize", "error": perr.Error()})
			return perr
		}
		m.emit(plugins.EventPluginInitialized, id, nil)

		// Initializing -> Running has no table entry; Plugin.Start's own doc
		// names this as one of its two call sites, so completing the
		// transition means calling Start here rather than jumping the state
		// machine straight to Running.
		if perr := m.invokeTimed(ctx, m.cfg.StartTimeout, id, "start", func(cctx context.Context) error {
			return plugin.Start(cctx)
		}); perr != nil {
			rec.AppendError(perr)
			rec.State = plugins.Error
			m.emit(plugins.EventPluginError, id, map[string]any{"operation": "start", "error": perr.Error()})
			return perr
		}

		rec.State = plugins.Running
		m.emit(plugins.EventPluginStarted, id, nil)
		return nil
	}))
}

// Start resumes a Paused plugin, per spec.md §4.1's "start/resume" trigger
// column (the only defined transition under that trigger is Paused ->
// Running). Identical to Resume; kept as a distinct method since spec.md
// §4.1 names both start(id) and resume(id) as public operations.
func (m *Manager) Start(ctx context.Context, id string) error { return m.resumeOrStart(ctx, id) }

// Resume is Start's alias for a paused plugin.
func (m *Manager) Resume(ctx context.Context, id string) error { return m.resumeOrStart(ctx, id) }

func (m *Manager) resumeOrStart(ctx context.Context, id string) error {
	return toError(m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		next, ok := plugins.Next(rec.State, plugins.TriggerStart)
		if !ok {
			return plugins.Newf(plugins.StateError, "cannot start/resume plugin %s from state %s", id, rec.State)
		}

		// Suspendable.Resume is preferred when the plugin implements it (a
		// precise resume-from-pause action); otherwise Plugin.Start is
		// reused, per its own doc naming Paused -> Running as a call site.
		resumeOp := func(cctx context.Context) error {
			if plugin, ok := rec.Instance.(plugins.Plugin); ok {
				return plugin.Start(cctx)
			}
			return nil
		}
		if susp, ok := rec.Instance.(plugins.Suspendable); ok {
			resumeOp = susp.Resume
		}

		if perr := m.invokeTimed(ctx, m.cfg.StartTimeout, id, "resume", resumeOp); perr != nil {
			rec.AppendError(perr)
			rec.State = plugins.Error
			return perr
		}
		rec.State = next
		m.emit(plugins.EventPluginResumed, id, nil)
		return nil
	}))
}

// Stop halts a Running or Paused plugin, transitioning Stopping ->
// Stopped once the plugin's Stop callback completes successfully, per
// spec.md §4.1's table (no trigger drives Stopping -> Stopped directly;
// it follows automatically from a successful stop, mirroring Initialize's
// auto-promotion to Running).
func (m *Manager) Stop(ctx context.Context, id string) error {
	return toError(m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		next, ok := plugins.Next(rec.State, plugins.TriggerStop)
		if !ok {
			return plugins.Newf(plugins.StateError, "cannot stop plugin %s from state %s", id, rec.State)
		}
		rec.State = next

		plugin, ok := rec.Instance.(plugins.Plugin)
		if ok {
			if perr := m.invokeTimed(ctx, m.cfg.StopTimeout, id, "stop", func(cctx context.Context) error {
				return plugin.Stop(cctx)
			}); perr != nil {
				rec.AppendError(perr)
				rec.State = plugins.Error
				return perr
			}
		}

		rec.State = plugins.Stopped
		m.emit(plugins.EventPluginStopped, id, nil)
		return nil
	}))
}

// Pause suspends a Running plugin.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return toError(m.withRecord(id, func(rec *plugins.Record) *plugins.Error {
		next, ok := plugins.Next(rec.State, plugins.TriggerPause)
		if !ok {
			return plugins.Newf(plugins.StateError, "cannot pause plugin %s from state %s", id, rec.State)
		}
		susp, ok := rec.Instance.(plugins.Suspendable)
		if !ok {
			return plugins.Newf(plugins.NotImplemented, "plugin %s does not support pause/resume", id)
		}
		if perr := m.invokeTimed(ctx, m.cfg.StopTimeout, id, "pause", func(cctx context.Context) error {
			return susp.Pause(cctx)
		}); perr != nil {
			rec.AppendError(perr)
			rec.State = plugins.Error
			return perr
		}
		rec.State = next
		m.emit(plugins.EventPluginPaused, id, nil)
		return nil
	}))
}

// UnloadPlugin stops and shuts down id, then removes its record. Fails
// with DependencyMissing if another loaded plugin still depends on id,
// unless force is set, in which case dependents are unloaded first, in
// reverse topological order, per spec.md §4.1.
func (m *Manager) UnloadPlugin(ctx context.Context, id string, force bool) error {
	m.mu.RLock()
	_, exists := m.registry[id]
	m.mu.RUnlock()
	if !exists {
		return plugins.Newf(plugins.NotFound, "plugin %s is not registered", id)
	}

	m.mu.RLock()
	deps := dependents(m.registry, id)
	m.mu.RUnlock()

	if len(deps) == 0 {
		return toError(m.unloadOne(ctx, id))
	}
	if !force {
		return plugins.Newf(plugins.DependencyMissing, "plugin %s is depended on by %s", id, strings.Join(deps, ", ")).WithDetails(strings.Join(deps, ","))
	}

	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		m.mu.RLock()
		more := dependents(m.registry, cur)
		m.mu.RUnlock()
		for _, d := range more {
			if !visited[d] {
				visited[d] = true
				queue = append(queue, d)
			}
		}
	}

	m.mu.RLock()
	subset := make(map[string]*plugins.Record, len(visited))
	for candID := range visited {
		if rec, ok := m.registry[candID]; ok {
			subset[candID] = rec
		}
	}
	m.mu.RUnlock()

	var combined error
	for _, target := range unloadOrder(subset) {
		if perr := m.unloadOne(ctx, target); perr != nil {
			combined = multierror.Append(combined, perr)
		}
	}
	return combined
}

// unloadOne runs the shutdown sequence (stop if needed, shutdown, remove)
// for one already-registered plugin. It does not check dependents; callers
// (UnloadPlugin, ShutdownAll) are responsible for ordering.
func (m *Manager) unloadOne(ctx context.Context, id string) *plugins.Error {
	m.mu.RLock()
	rec, ok := m.registry[id]
	m.mu.RUnlock()
	if !ok {
		return plugins.Newf(plugins.NotFound, "plugin %s is not registered", id)
	}

	lock := m.recordLock(id)
	lock.Lock()

	next, ok := plugins.Next(rec.State, plugins.TriggerShutdown)
	if !ok {
		lock.Unlock()
		return plugins.Newf(plugins.StateError, "cannot shutdown plugin %s from state %s", id, rec.State)
	}

	plugin, _ := rec.Instance.(plugins.Plugin)

	if next == plugins.Stopping && plugin != nil {
		rec.State = plugins.Stopping
		if perr := m.invokeTimed(ctx, m.cfg.StopTimeout, id, "stop", func(cctx context.Context) error {
			return plugin.Stop(cctx)
		}); perr != nil {
			rec.AppendError(perr)
			// Stop failing does not abort shutdown; the plugin is being
			// removed regardless, so Shutdown still runs to release what it
			// can, matching spec.md §5's "shutdown_all is best-effort."
		}
	}

	if plugin != nil {
		if perr := m.invokeTimed(ctx, m.cfg.StopTimeout, id, "shutdown", func(cctx context.Context) error {
			return plugin.Shutdown(cctx)
		}); perr != nil {
			rec.AppendError(perr)
			rec.State = plugins.Error
			lock.Unlock()
			m.emit(plugins.EventPluginError, id, map[string]any{"operation": "shutdown", "error": perr.Error()})
			return perr
		}
	}

	rec.State = plugins.Unloaded
	lock.Unlock()

	_ = m.activeLoader.Unload(id)
	_ = m.msgBus.Unsubscribe(id, "")

	m.mu.Lock()
	delete(m.registry, id)
	delete(m.recordLocks, id)
	m.mu.Unlock()

	m.breakersMu.Lock()
	delete(m.breakers, id)
	m.breakersMu.Unlock()
	m.unregisterGatherer(id)

	m.emit(plugins.EventPluginUnloaded, id, nil)
	return nil
}

// ReloadPlugin reloads id from its original file path, following the
// original's debounce-and-verify pattern (src/utils/PluginHotReload.h):
// the transition into Reloading captures the current configuration and
// running state, the new binary's metadata id/version is verified against
// the live record *before* anything destructive happens, and only a loader
// that reports SupportsHotReload gets the full load-new-then-retire-old
// path that can roll back to the still-live prior instance if the new one
// fails to initialize or start. A loader that cannot hold two live handles
// for the same module (the bundled DefaultLoader; see its SupportsHotReload
// note) falls back to unload-then-load, the one case where a failure after
// verification leaves the plugin unloaded rather than rolled back, since
// its prior instance has already been shut down by then.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	m.mu.RLock()
	rec, ok := m.registry[id]
	m.mu.RUnlock()
	if !ok {
		return plugins.Newf(plugins.NotFound, "plugin %s is not registered", id)
	}

	lock := m.recordLock(id)
	lock.Lock()
	prevState := rec.State
	next, ok := plugins.Next(prevState, plugins.TriggerReload)
	if !ok {
		lock.Unlock()
		return plugins.Newf(plugins.StateError, "cannot reload plugin %s from state %s", id, prevState)
	}
	path := rec.FilePath
	cfg := rec.Configuration
	oldMeta := rec.Metadata
	oldInstance := rec.Instance
	wasRunning := prevState == plugins.Running
	rec.State = next
	lock.Unlock()
	m.emit(plugins.EventPluginReloading, id, map[string]any{"path": path})

	abort := func(perr *plugins.Error) error {
		_ = m.withRecord(id, func(r *plugins.Record) *plugins.Error {
			r.State = prevState
			return nil
		})
		return perr
	}

	newMeta, rerr := m.activeLoader.ReadMetadata(path)
	if rerr != nil {
		if pe, ok := plugins.AsError(rerr); ok {
			return abort(pe)
		}
		return abort(plugins.Newf(plugins.LoadFailed, "reload of %s failed reading metadata from %q: %v", id, path, rerr))
	}
	if newMeta.ID != oldMeta.ID {
		return abort(plugins.Newf(plugins.VersionMismatch, "reload of %s aborted: %q now reports id %q, expected %q", id, path, newMeta.ID, oldMeta.ID))
	}
	if _, verr := plugins.Parse(newMeta.Version); verr != nil {
		return abort(plugins.Newf(plugins.InvalidArgument, "reload of %s aborted: %q's version %q is invalid: %v", id, path, newMeta.Version, verr))
	}

	if m.activeLoader.SupportsHotReload() {
		return m.reloadHot(ctx, id, path, cfg, wasRunning, prevState, newMeta, oldInstance, abort)
	}
	return m.reloadCold(ctx, id, path, cfg, wasRunning)
}

// reloadCold implements the fallback path for a loader that cannot hold two
// live handles to the same module id at once: verification already passed,
// so this only unloads and loads again. A failure here leaves the plugin
// unloaded rather than rolled back, since the prior instance's Stop/
// Shutdown have already run by the time the new load is attempted.
func (m *Manager) reloadCold(ctx context.Context, id, path string, cfg map[string]any, wasRunning bool) error {
	if err := toError(m.unloadOne(ctx, id)); err != nil {
		return plugins.Newf(plugins.UnloadFailed, "reload of %s failed during unload; plugin left in Error state: %v", id, err)
	}
	if _, err := m.LoadPlugin(ctx, path, LoadOptions{Configuration: cfg, InitializeImmediately: wasRunning}); err != nil {
		return plugins.Newf(plugins.LoadFailed, "reload of %s failed after verified unload; plugin remains unloaded: %v", id, err)
	}
	return nil
}

// reloadHot implements the full verify-then-commit path: the new instance
// is loaded and brought to the same state the old one was in, with the old
// instance still live and registered the whole time. Only once the new
// instance has proven itself is the old one stopped, shut down, and
// replaced in the registry; any failure before that point rolls the record
// back to prevState with the old instance untouched and still serving.
func (m *Manager) reloadHot(ctx context.Context, id, path string, cfg map[string]any, wasRunning bool, prevState plugins.State, newMeta *plugins.Metadata, oldInstance any, abort func(*plugins.Error) error) error {
	newInstance, newID, lerr := m.activeLoader.Load(path)
	if lerr != nil {
		if pe, ok := plugins.AsError(lerr); ok {
			return abort(pe)
		}
		return abort(plugins.Newf(plugins.LoadFailed, "reload of %s failed loading new instance: %v", id, lerr))
	}

	rt := m.newRuntime(id)
	if perr := m.invokeTimed(ctx, m.cfg.InitTimeout, id, "initialize", func(cctx context.Context) error {
		return newInstance.Initialize(cctx, rt)
	}); perr != nil {
		_ = m.activeLoader.Unload(newID)
		return abort(plugins.Newf(plugins.InitializationFailed, "reload of %s failed to initialize new instance, keeping prior instance running: %v", id, perr))
	}

	if wasRunning {
		if perr := m.invokeTimed(ctx, m.cfg.StartTimeout, id, "start", func(cctx context.Context) error {
			return newInstance.Start(cctx)
		}); perr != nil {
			_ = m.invokeTimed(ctx, m.cfg.StopTimeout, id, "shutdown", func(cctx context.Context) error {
				return newInstance.Shutdown(cctx)
			})
			_ = m.activeLoader.Unload(newID)
			return abort(plugins.Newf(plugins.InitializationFailed, "reload of %s failed to start new instance, keeping prior instance running: %v", id, perr))
		}
	}

	// The new instance is verified live; retire the old one.
	if oldPlugin, ok := oldInstance.(plugins.Plugin); ok {
		if prevState == plugins.Running || prevState == plugins.Paused {
			_ = m.invokeTimed(ctx, m.cfg.StopTimeout, id, "stop", func(cctx context.Context) error {
				return oldPlugin.Stop(cctx)
			})
		}
		_ = m.invokeTimed(ctx, m.cfg.StopTimeout, id, "shutdown", func(cctx context.Context) error {
			return oldPlugin.Shutdown(cctx)
		})
	}
	_ = m.msgBus.Unsubscribe(id, "")
	_ = m.activeLoader.Unload(id)
	m.unregisterGatherer(id)

	if cfg != nil {
		if configurable, ok := newInstance.(plugins.Configurable); ok {
			_ = configurable.Configure(cfg)
		}
	}

	finalState := plugins.Loaded
	if wasRunning {
		finalState = plugins.Running
	}
	_ = m.withRecord(id, func(r *plugins.Record) *plugins.Error {
		r.Instance = newInstance
		r.Metadata = newMeta
		r.LoadTime = time.Now()
		r.Configuration = cfg
		r.State = finalState
		return nil
	})
	m.registerGatherer(id, newInstance)
	m.emit(plugins.EventPluginLoaded, id, map[string]any{"path": path, "reloaded": true})
	return nil
}

// ShutdownAll unloads every registered plugin in reverse dependency order.
// Best-effort: a plugin whose shutdown fails is reported in the combined
// error but does not stop the remaining plugins from being shut down, per
// spec.md §5 ("never blocks indefinitely... marked Error and its record
// removed" applies per-plugin, not to the whole operation).
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]*plugins.Record, len(m.registry))
	for id, rec := range m.registry {
		snapshot[id] = rec
	}
	m.mu.RUnlock()

	var combined error
	for _, id := range unloadOrder(snapshot) {
		if perr := m.unloadOne(ctx, id); perr != nil {
			combined = multierror.Append(combined, perr)
		}
	}
	return combined
}
