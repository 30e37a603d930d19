// Package loader implements the Plugin Loader abstraction of spec.md §4.5:
// turning a file path into a live plugin instance plus its metadata. The
// concrete toolkit-specific binding is explicitly out of this core's scope
// (spec.md §1); DefaultLoader is the one bundled implementation, built on
// Go's own standard-library plugin package (there is no third-party
// dynamic-library loader in the example corpus to prefer over it).
package loader

import (
	"github.com/lynxforge/pluginrt/plugins"
)

// Loader is the contract spec.md §4.5 names. The loader owns the operating
// system handle to the native module; Unload releases that handle.
type Loader interface {
	CanLoad(path string) bool
	SupportedExtensions() []string
	SupportsHotReload() bool
	ReadMetadata(path string) (*plugins.Metadata, error)
	Load(path string) (instance plugins.Plugin, id string, err error)
	Unload(id string) error
	IsLoaded(id string) bool
	LoadedIDs() []string
}
