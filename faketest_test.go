package pluginrt

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lynxforge/pluginrt/loader"
	"github.com/lynxforge/pluginrt/plugins"
	"github.com/lynxforge/pluginrt/security"
)

// fakeLoader is an in-memory loader.Loader used by every test in this
// package, registered as "fake" on each test's private *loader.Factory and
// selected via Config.LoaderName, so no test touches Go's real plugin
// package. Module files themselves are small real files (see writeFakeFile)
// so the path and Basic security checks have something to stat.
type fakeLoader struct {
	mu        sync.Mutex
	byPath    map[string]*fakeModule
	loaded    map[string]bool
	hotReload bool
}

type fakeModule struct {
	meta  *plugins.Metadata
	newFn func() plugins.Plugin
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{byPath: make(map[string]*fakeModule), loaded: make(map[string]bool), hotReload: true}
}

func (f *fakeLoader) register(path string, meta *plugins.Metadata, newFn func() plugins.Plugin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPath[path] = &fakeModule{meta: meta, newFn: newFn}
}

func (f *fakeLoader) CanLoad(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byPath[path]
	return ok
}

func (f *fakeLoader) SupportedExtensions() []string { return []string{".fake"} }
func (f *fakeLoader) SupportsHotReload() bool       { return f.hotReload }

func (f *fakeLoader) ReadMetadata(path string) (*plugins.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mod, ok := f.byPath[path]
	if !ok {
		return nil, plugins.Newf(plugins.FileNotFound, "no fake module registered at %q", path)
	}
	return mod.meta, nil
}

func (f *fakeLoader) Load(path string) (plugins.Plugin, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mod, ok := f.byPath[path]
	if !ok {
		return nil, "", plugins.Newf(plugins.FileNotFound, "no fake module registered at %q", path)
	}
	f.loaded[mod.meta.ID] = true
	return mod.newFn(), mod.meta.ID, nil
}

func (f *fakeLoader) Unload(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.loaded, id)
	return nil
}

func (f *fakeLoader) IsLoaded(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded[id]
}

func (f *fakeLoader) LoadedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.loaded))
	for id := range f.loaded {
		ids = append(ids, id)
	}
	return ids
}

// fakePlugin is a minimal plugins.Plugin whose callback outcomes and delays
// are controlled by the test, so lifecycle scenarios are deterministic.
// Suspendable, Configurable and CommandHandler are added by the wrapper
// types fakeSuspendablePlugin, configurablePlugin and commandPlugin.
type fakePlugin struct {
	id   string
	meta *plugins.Metadata

	initErr, startErr, stopErr, shutdownErr, pauseErr, resumeErr error
	initDelay, stopDelay                                        time.Duration
	initPanic                                                    bool

	initCalled, startCalled, stopCalled, shutdownCalled int32
}

func newFakePlugin(meta *plugins.Metadata) *fakePlugin {
	return &fakePlugin{id: meta.ID, meta: meta}
}

func (p *fakePlugin) ID() string                 { return p.id }
func (p *fakePlugin) Metadata() *plugins.Metadata { return p.meta }

func (p *fakePlugin) Initialize(ctx context.Context, rt plugins.Runtime) error {
	atomic.AddInt32(&p.initCalled, 1)
	if p.initPanic {
		panic("fakePlugin: simulated initialize panic")
	}
	if p.initDelay > 0 {
		select {
		case <-time.After(p.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.initErr
}

func (p *fakePlugin) Start(ctx context.Context) error {
	atomic.AddInt32(&p.startCalled, 1)
	return p.startErr
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	atomic.AddInt32(&p.stopCalled, 1)
	if p.stopDelay > 0 {
		select {
		case <-time.After(p.stopDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.stopErr
}

func (p *fakePlugin) Shutdown(ctx context.Context) error {
	atomic.AddInt32(&p.shutdownCalled, 1)
	return p.shutdownErr
}

func (p *fakePlugin) Health() plugins.HealthReport {
	return plugins.HealthReport{Status: plugins.HealthOK, Timestamp: time.Now()}
}

// fakeSuspendablePlugin adds Pause/Resume on top of fakePlugin.
type fakeSuspendablePlugin struct {
	*fakePlugin
}

func (p *fakeSuspendablePlugin) Pause(ctx context.Context) error  { return p.pauseErr }
func (p *fakeSuspendablePlugin) Resume(ctx context.Context) error { return p.resumeErr }

func testMetadata(id string, deps ...string) *plugins.Metadata {
	return &plugins.Metadata{ID: id, Name: id, Version: "1.0.0", Dependencies: deps}
}

// newTestManager builds a Manager wired to a fresh fakeLoader registered
// as "fake" on a private *loader.Factory, so tests never touch the real Go
// plugin package or any global factory state.
func newTestManager(t *testing.T) (*Manager, *fakeLoader) {
	t.Helper()
	fl := newFakeLoader()
	factory := loader.NewFactory()
	factory.Register("fake", func() loader.Loader { return fl })

	mgr, err := New(Config{
		LoaderName: "fake",
		Security:   security.Config{Level: security.LevelBasic},
	}, factory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr, fl
}

// writeFakeFile creates a small non-empty regular file under t.TempDir so
// the security validator's Basic file checks (exists, regular, non-empty)
// pass for a path the fakeLoader will recognize.
func writeFakeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".fake")
	if err := os.WriteFile(path, []byte("fake-module"), 0o644); err != nil {
		t.Fatalf("write fake file: %v", err)
	}
	return path
}
