package pluginrt

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/lynxforge/pluginrt/plugins"
)

func TestReloadPluginHotSwapsRunningPluginAndRestoresState(t *testing.T) {
	mgr, fl := newTestManager(t)
	path := writeFakeFile(t, "reloadable")
	meta := testMetadata("plugin.reloadable")
	oldInstance := newFakePlugin(meta)
	fl.register(path, meta, func() plugins.Plugin { return oldInstance })

	ctx := context.Background()
	if _, err := mgr.LoadPlugin(ctx, path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	listener := &testListener{filter: &plugins.Filter{Types: []plugins.EventType{plugins.EventPluginReloading}}}
	id := mgr.Subscribe(listener)
	defer mgr.Unsubscribe(id)

	newMeta := testMetadata("plugin.reloadable")
	newMeta.Version = "1.0.1"
	newInstance := newFakePlugin(newMeta)
	fl.register(path, newMeta, func() plugins.Plugin { return newInstance })

	if err := mgr.ReloadPlugin(ctx, meta.ID); err != nil {
		t.Fatalf("ReloadPlugin: %v", err)
	}

	if listener.count() != 1 {
		t.Fatalf("expected one EventPluginReloading, got %d", listener.count())
	}

	rec, ok := mgr.GetPlugin(meta.ID)
	if !ok {
		t.Fatal("plugin.reloadable must remain registered after reload")
	}
	if rec.State != plugins.Running {
		t.Fatalf("state after reload = %v, want Running", rec.State)
	}
	if got, ok := rec.Instance.(*fakePlugin); !ok || got != newInstance {
		t.Fatal("record instance must be swapped to the new instance")
	}
	if atomic.LoadInt32(&newInstance.startCalled) != 1 {
		t.Fatalf("new instance start called %d times, want 1", newInstance.startCalled)
	}
	if atomic.LoadInt32(&oldInstance.shutdownCalled) != 1 {
		t.Fatalf("old instance shutdown called %d times, want 1", oldInstance.shutdownCalled)
	}
	if atomic.LoadInt32(&oldInstance.stopCalled) != 1 {
		t.Fatalf("old instance stop called %d times, want 1", oldInstance.stopCalled)
	}
}

func TestReloadPluginAbortsOnIDMismatch(t *testing.T) {
	mgr, fl := newTestManager(t)
	path := writeFakeFile(t, "idcheck")
	meta := testMetadata("plugin.idcheck")
	oldInstance := newFakePlugin(meta)
	fl.register(path, meta, func() plugins.Plugin { return oldInstance })

	ctx := context.Background()
	if _, err := mgr.LoadPlugin(ctx, path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	mismatchedMeta := testMetadata("plugin.different")
	fl.register(path, mismatchedMeta, func() plugins.Plugin { return newFakePlugin(mismatchedMeta) })

	err := mgr.ReloadPlugin(ctx, meta.ID)
	if err == nil {
		t.Fatal("expected reload to abort on id mismatch")
	}
	pe, ok := plugins.AsError(err)
	if !ok || pe.Code != plugins.VersionMismatch {
		t.Fatalf("got %v, want VersionMismatch", err)
	}

	rec, ok := mgr.GetPlugin(meta.ID)
	if !ok || rec.State != plugins.Running {
		t.Fatalf("expected plugin.idcheck to remain Running after aborted reload, got %v (ok=%v)", rec, ok)
	}
	if atomic.LoadInt32(&oldInstance.shutdownCalled) != 0 {
		t.Fatal("old instance must not be shut down when verification fails")
	}
}

func TestReloadPluginRollsBackWhenNewInstanceFailsToInitialize(t *testing.T) {
	mgr, fl := newTestManager(t)
	path := writeFakeFile(t, "rollback")
	meta := testMetadata("plugin.rollback")
	oldInstance := newFakePlugin(meta)
	fl.register(path, meta, func() plugins.Plugin { return oldInstance })

	ctx := context.Background()
	if _, err := mgr.LoadPlugin(ctx, path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	failingInstance := newFakePlugin(meta)
	failingInstance.initErr = context.DeadlineExceeded
	fl.register(path, meta, func() plugins.Plugin { return failingInstance })

	err := mgr.ReloadPlugin(ctx, meta.ID)
	if err == nil {
		t.Fatal("expected reload to fail when the new instance's Initialize errors")
	}

	rec, ok := mgr.GetPlugin(meta.ID)
	if !ok {
		t.Fatal("plugin.rollback must remain registered after a rolled-back reload")
	}
	if rec.State != plugins.Running {
		t.Fatalf("state after rollback = %v, want Running", rec.State)
	}
	if got, ok := rec.Instance.(*fakePlugin); !ok || got != oldInstance {
		t.Fatal("record instance must still be the prior, untouched instance after rollback")
	}
	if atomic.LoadInt32(&oldInstance.shutdownCalled) != 0 {
		t.Fatal("old instance must not be shut down when the new instance fails to initialize")
	}
}

func TestReloadPluginColdPathSucceedsWithoutDeadHandleConflict(t *testing.T) {
	mgr, fl := newTestManager(t)
	fl.hotReload = false
	path := writeFakeFile(t, "cold")
	meta := testMetadata("plugin.cold")
	fl.register(path, meta, func() plugins.Plugin { return newFakePlugin(meta) })

	ctx := context.Background()
	if _, err := mgr.LoadPlugin(ctx, path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := mgr.ReloadPlugin(ctx, meta.ID); err != nil {
		t.Fatalf("cold reload with matching metadata should succeed: %v", err)
	}

	rec, ok := mgr.GetPlugin(meta.ID)
	if !ok || rec.State != plugins.Running {
		t.Fatalf("expected plugin.cold Running after cold reload, got %v (ok=%v)", rec, ok)
	}
}

func TestReloadPluginColdPathLeavesPluginUnloadedWhenReloadFails(t *testing.T) {
	mgr, fl := newTestManager(t)
	fl.hotReload = false
	path := writeFakeFile(t, "coldfail")
	meta := testMetadata("plugin.coldfail")
	fl.register(path, meta, func() plugins.Plugin { return newFakePlugin(meta) })

	ctx := context.Background()
	if _, err := mgr.LoadPlugin(ctx, path, LoadOptions{InitializeImmediately: true}); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Simulate the file vanishing between unload and reload: the fakeLoader
	// still reports the module's metadata, so verification passes, but the
	// file on disk is gone when the cold path loads it again.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	err := mgr.ReloadPlugin(ctx, meta.ID)
	if err == nil {
		t.Fatal("expected cold reload to fail once the file is gone")
	}
	pe, ok := plugins.AsError(err)
	if !ok || pe.Code != plugins.LoadFailed {
		t.Fatalf("got %v, want LoadFailed", err)
	}
	if _, stillRegistered := mgr.GetPlugin(meta.ID); stillRegistered {
		t.Fatal("cold-path reload failure after a successful unload must leave the plugin unloaded, not rolled back")
	}
}
