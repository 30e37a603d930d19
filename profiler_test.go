package pluginrt

import (
	"context"
	"testing"

	"github.com/lynxforge/pluginrt/plugins"
)

func TestPluginProfileRecordsInitializeSample(t *testing.T) {
	mgr, fl := newTestManager(t)
	path := writeFakeFile(t, "profiled")
	meta := testMetadata("plugin.profiled")
	fl.register(path, meta, func() plugins.Plugin { return newFakePlugin(meta) })

	if _, err := mgr.LoadPlugin(context.Background(), path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	count, _ := mgr.PluginProfile(meta.ID, "initialize")
	if count != 1 {
		t.Fatalf("PluginProfile count = %d, want 1", count)
	}
}

func TestPluginProfileEmptyForUncalledOperation(t *testing.T) {
	mgr, _ := newTestManager(t)
	count, avg := mgr.PluginProfile("plugin.never-loaded", "start")
	if count != 0 || avg != 0 {
		t.Fatalf("got count=%d avg=%v, want zero values", count, avg)
	}
}
