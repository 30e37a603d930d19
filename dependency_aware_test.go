package pluginrt

import (
	"context"
	"testing"

	"github.com/lynxforge/pluginrt/plugins"
)

// strictChecker rejects any dependency instance, regardless of shape.
type strictChecker struct{}

func (strictChecker) Check(dep plugins.Plugin) bool { return false }
func (strictChecker) Description() string           { return "always rejects" }

type dependencyAwarePlugin struct {
	*fakePlugin
	deps []plugins.Dependency
}

func (p *dependencyAwarePlugin) Dependencies() []plugins.Dependency { return p.deps }

func TestCheckDependencyAwareRejectsFailedChecker(t *testing.T) {
	mgr, fl := newTestManager(t)

	basePath := writeFakeFile(t, "base")
	baseMeta := testMetadata("plugin.base")
	fl.register(basePath, baseMeta, func() plugins.Plugin { return newFakePlugin(baseMeta) })
	if _, err := mgr.LoadPlugin(context.Background(), basePath, LoadOptions{}); err != nil {
		t.Fatalf("load base: %v", err)
	}

	depPath := writeFakeFile(t, "dependent")
	depMeta := testMetadata("plugin.dependent")
	dp := &dependencyAwarePlugin{
		fakePlugin: newFakePlugin(depMeta),
		deps:       []plugins.Dependency{{ID: "plugin.base", Checker: strictChecker{}}},
	}
	fl.register(depPath, depMeta, func() plugins.Plugin { return dp })

	_, err := mgr.LoadPlugin(context.Background(), depPath, LoadOptions{})
	if err == nil {
		t.Fatal("expected load to fail a rejecting checker")
	}
	pe, ok := plugins.AsError(err)
	if !ok || pe.Code != plugins.DependencyMissing {
		t.Fatalf("got %v, want DependencyMissing", err)
	}
	if mgr.isRegistered("plugin.dependent") {
		t.Fatal("plugin.dependent must not remain registered after a failed checker")
	}
}

func TestCheckDependencyAwareAllowsPassingChecker(t *testing.T) {
	mgr, fl := newTestManager(t)

	basePath := writeFakeFile(t, "base2")
	baseMeta := testMetadata("plugin.base2")
	fl.register(basePath, baseMeta, func() plugins.Plugin { return newFakePlugin(baseMeta) })
	if _, err := mgr.LoadPlugin(context.Background(), basePath, LoadOptions{}); err != nil {
		t.Fatalf("load base: %v", err)
	}

	type passChecker struct{}
	depPath := writeFakeFile(t, "dependent2")
	depMeta := testMetadata("plugin.dependent2")
	dp := &dependencyAwarePlugin{
		fakePlugin: newFakePlugin(depMeta),
		deps: []plugins.Dependency{{
			ID:      "plugin.base2",
			Checker: checkerFunc{f: func(plugins.Plugin) bool { return true }},
		}},
	}
	fl.register(depPath, depMeta, func() plugins.Plugin { return dp })

	if _, err := mgr.LoadPlugin(context.Background(), depPath, LoadOptions{}); err != nil {
		t.Fatalf("expected load to succeed with a passing checker: %v", err)
	}
}

func TestCheckDependencyAwareSkipsOptionalMissing(t *testing.T) {
	mgr, fl := newTestManager(t)

	depPath := writeFakeFile(t, "optdep")
	depMeta := testMetadata("plugin.optdep")
	dp := &dependencyAwarePlugin{
		fakePlugin: newFakePlugin(depMeta),
		deps:       []plugins.Dependency{{ID: "plugin.nonexistent", Optional: true}},
	}
	fl.register(depPath, depMeta, func() plugins.Plugin { return dp })

	if _, err := mgr.LoadPlugin(context.Background(), depPath, LoadOptions{}); err != nil {
		t.Fatalf("expected load to succeed despite missing optional dependency: %v", err)
	}
}

// checkerFunc adapts a func to plugins.Checker.
type checkerFunc struct {
	f func(plugins.Plugin) bool
}

func (c checkerFunc) Check(dep plugins.Plugin) bool { return c.f(dep) }
func (c checkerFunc) Description() string           { return "func-based checker" }
