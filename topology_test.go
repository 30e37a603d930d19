package pluginrt

import (
	"testing"

	"github.com/lynxforge/pluginrt/plugins"
)

func cand(id string, deps ...string) loadCandidate {
	return loadCandidate{id: id, meta: &plugins.Metadata{ID: id, Dependencies: deps}}
}

func TestResolveLoadOrderLinearChain(t *testing.T) {
	candidates := []loadCandidate{
		cand("c", "b"),
		cand("a"),
		cand("b", "a"),
	}
	order, _, err := resolveLoadOrder(candidates, nil)
	if err != nil {
		t.Fatalf("resolveLoadOrder: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestResolveLoadOrderTieBreakIsLexicographic(t *testing.T) {
	// b, c, and d all have no dependencies; order among them must be
	// deterministic ascending-id, not insertion order.
	candidates := []loadCandidate{
		cand("d"),
		cand("c"),
		cand("b"),
	}
	order, _, err := resolveLoadOrder(candidates, nil)
	if err != nil {
		t.Fatalf("resolveLoadOrder: %v", err)
	}
	want := []string{"b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestResolveLoadOrderAlreadyRegisteredSatisfiesDependency(t *testing.T) {
	candidates := []loadCandidate{cand("b", "a")}
	order, _, err := resolveLoadOrder(candidates, map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("resolveLoadOrder: %v", err)
	}
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("order = %v, want [b]", order)
	}
}

func TestResolveLoadOrderMissingRequiredDependency(t *testing.T) {
	candidates := []loadCandidate{cand("b", "a")}
	_, _, err := resolveLoadOrder(candidates, nil)
	if err == nil || err.Code != plugins.DependencyMissing {
		t.Fatalf("got %v, want DependencyMissing", err)
	}
}

func TestResolveLoadOrderMissingOptionalDependencyWarnsOnly(t *testing.T) {
	c := loadCandidate{id: "b", meta: &plugins.Metadata{ID: "b", OptionalDependencies: []string{"ghost"}}}
	order, missingOptional, err := resolveLoadOrder([]loadCandidate{c}, nil)
	if err != nil {
		t.Fatalf("resolveLoadOrder: %v", err)
	}
	if len(order) != 1 || order[0] != "b" {
		t.Fatalf("order = %v, want [b]", order)
	}
	if len(missingOptional["b"]) != 1 || missingOptional["b"][0] != "ghost" {
		t.Fatalf("missingOptional = %v, want b -> [ghost]", missingOptional)
	}
}

func TestResolveLoadOrderCycle(t *testing.T) {
	candidates := []loadCandidate{
		cand("a", "b"),
		cand("b", "a"),
	}
	_, _, err := resolveLoadOrder(candidates, nil)
	if err == nil || err.Code != plugins.DependencyMissing {
		t.Fatalf("got %v, want DependencyMissing naming the cycle", err)
	}
}

func TestResolveLoadOrderDuplicateID(t *testing.T) {
	candidates := []loadCandidate{cand("a"), cand("a")}
	_, _, err := resolveLoadOrder(candidates, nil)
	if err == nil || err.Code != plugins.AlreadyExists {
		t.Fatalf("got %v, want AlreadyExists", err)
	}
}

func TestComputeLevelsLinearChain(t *testing.T) {
	candidates := []loadCandidate{cand("a"), cand("b", "a"), cand("c", "b")}
	byID := make(map[string]loadCandidate)
	for _, c := range candidates {
		byID[c.id] = c
	}
	order, _, err := resolveLoadOrder(candidates, nil)
	if err != nil {
		t.Fatalf("resolveLoadOrder: %v", err)
	}
	levels := computeLevels(order, byID, nil)
	if levels["a"] != 0 || levels["b"] != 1 || levels["c"] != 2 {
		t.Fatalf("levels = %v, want a:0 b:1 c:2", levels)
	}
}

func TestComputeLevelsRegisteredDependencyDoesNotAddDepth(t *testing.T) {
	candidates := []loadCandidate{cand("b", "a")}
	byID := map[string]loadCandidate{"b": candidates[0]}
	levels := computeLevels([]string{"b"}, byID, map[string]bool{"a": true})
	if levels["b"] != 0 {
		t.Fatalf("levels[b] = %d, want 0 since its dependency is already registered", levels["b"])
	}
}

func recOf(id string, deps ...string) *plugins.Record {
	return &plugins.Record{ID: id, Metadata: &plugins.Metadata{ID: id, Dependencies: deps}}
}

func TestUnloadOrderReversesDependencies(t *testing.T) {
	records := map[string]*plugins.Record{
		"a": recOf("a"),
		"b": recOf("b", "a"),
		"c": recOf("c", "b"),
	}
	order := unloadOrder(records)
	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDependentsFindsDirectDependents(t *testing.T) {
	records := map[string]*plugins.Record{
		"a": recOf("a"),
		"b": recOf("b", "a"),
		"c": recOf("c", "a"),
		"d": recOf("d"),
	}
	deps := dependents(records, "a")
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Fatalf("dependents = %v, want [b c]", deps)
	}
}

func TestDependentsNoneFound(t *testing.T) {
	records := map[string]*plugins.Record{"a": recOf("a")}
	if deps := dependents(records, "a"); len(deps) != 0 {
		t.Fatalf("dependents = %v, want none", deps)
	}
}
