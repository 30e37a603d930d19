package loader

import (
	"encoding/json"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"

	"github.com/lynxforge/pluginrt/plugins"
)

// DefaultExtensions are the extensions accepted by DefaultLoader, per
// spec.md §6: .so, .dll, .dylib, and a neutral bundle extension reserved
// for the host.
var DefaultExtensions = []string{".so", ".dll", ".dylib", ".qtplugin"}

// Entry point symbols a module built for DefaultLoader must export.
const (
	symbolMetadata  = "PluginMetadataJSON" // exported var string: the embedded metadata JSON
	symbolNewPlugin = "NewPlugin"          // exported func() plugins.Plugin
)

type loadedModule struct {
	path    string
	handle  *goplugin.Plugin
	id      string
}

// DefaultLoader is the bundled implementation over Go's standard-library
// plugin package (Go's equivalent of a native dynamic-library facility).
type DefaultLoader struct {
	mu      sync.Mutex
	modules map[string]*loadedModule // id -> module
}

// NewDefaultLoader constructs a loader with no modules loaded.
func NewDefaultLoader() *DefaultLoader {
	return &DefaultLoader{modules: make(map[string]*loadedModule)}
}

func (l *DefaultLoader) CanLoad(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range DefaultExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (l *DefaultLoader) SupportedExtensions() []string { return append([]string(nil), DefaultExtensions...) }

// SupportsHotReload is false: Go's plugin package cannot unload a module
// from the process once opened, so a true reload requires a fresh process
// or a facade the host controls; DefaultLoader is honest about this limit
// rather than pretending reload_plugin can swap the underlying .so.
func (l *DefaultLoader) SupportsHotReload() bool { return false }

func (l *DefaultLoader) ReadMetadata(path string) (*plugins.Metadata, error) {
	if !l.CanLoad(path) {
		return nil, plugins.Newf(plugins.InvalidFormat, "unsupported extension for %q", path)
	}

	p, err := goplugin.Open(path)
	if err != nil {
		return nil, plugins.Newf(plugins.LoadFailed, "cannot open module %q: %v", path, err)
	}

	sym, err := p.Lookup(symbolMetadata)
	if err != nil {
		return nil, plugins.Newf(plugins.LoadFailed, "module %q missing %s symbol: %v", path, symbolMetadata, err)
	}
	jsonStr, ok := sym.(*string)
	if !ok {
		return nil, plugins.Newf(plugins.LoadFailed, "module %q's %s symbol has the wrong type", path, symbolMetadata)
	}

	var meta plugins.Metadata
	if err := json.Unmarshal([]byte(*jsonStr), &meta); err != nil {
		return nil, plugins.Newf(plugins.InvalidFormat, "module %q has malformed metadata: %v", path, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (l *DefaultLoader) Load(path string) (plugins.Plugin, string, error) {
	meta, err := l.ReadMetadata(path)
	if err != nil {
		return nil, "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.modules[meta.ID]; exists {
		return nil, "", plugins.Newf(plugins.AlreadyLoaded, "plugin %s is already loaded", meta.ID)
	}

	p, err := goplugin.Open(path)
	if err != nil {
		return nil, "", plugins.Newf(plugins.LoadFailed, "cannot open module %q: %v", path, err)
	}

	sym, err := p.Lookup(symbolNewPlugin)
	if err != nil {
		return nil, "", plugins.Newf(plugins.LoadFailed, "module %q missing %s symbol: %v", path, symbolNewPlugin, err)
	}
	newFn, ok := sym.(func() plugins.Plugin)
	if !ok {
		return nil, "", plugins.Newf(plugins.LoadFailed, "module %q's %s symbol has the wrong type", path, symbolNewPlugin)
	}

	instance := newFn()
	if instance == nil {
		return nil, "", plugins.Newf(plugins.LoadFailed, "module %q's entry point returned nil", path)
	}

	l.modules[meta.ID] = &loadedModule{path: path, handle: p, id: meta.ID}
	return instance, meta.ID, nil
}

// Unload releases the loader's bookkeeping for id. Go's plugin package has
// no process-level unmap primitive; this drops the loader's reference so
// the instance can be garbage collected once the manager also releases it,
// matching the "release order: plugin-object -> loader-entry -> file-unmap"
// note of spec.md §9 as closely as the host language allows.
func (l *DefaultLoader) Unload(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.modules[id]; !ok {
		return plugins.Newf(plugins.NotLoaded, "plugin %s is not loaded", id)
	}
	delete(l.modules, id)
	return nil
}

func (l *DefaultLoader) IsLoaded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.modules[id]
	return ok
}

func (l *DefaultLoader) LoadedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.modules))
	for id := range l.modules {
		ids = append(ids, id)
	}
	return ids
}
