// Package pluginrt is the plugin runtime core: it composes the security
// validator, resource manager, message bus, and loader into a single
// Manager that owns the plugin registry and drives the lifecycle state
// machine.
//
// This file (topology.go) resolves load and unload ordering across a batch
// of candidate plugins plus the already-registered set: Kahn's algorithm
// with deterministic lexicographic tie-breaks, required-vs-optional
// dependency handling, and cycle detection naming the offending cycle.
//
// Grounded on the teacher's topology.go (TopologicalSort/UnloadOrder), with
// the tie-break changed from insertion order to strict ascending id order
// to satisfy the determinism property of spec.md §8, and optional
// dependencies handled per spec.md §9's open-question resolution: missing
// optional dependencies produce a warning and do not block load.
package pluginrt

import (
	"sort"

	"github.com/lynxforge/pluginrt/plugins"
)

// loadCandidate is one plugin awaiting load, paired with its metadata so
// dependency edges can be read without re-invoking the loader.
type loadCandidate struct {
	id   string
	meta *plugins.Metadata
}

// resolveLoadOrder computes a topological load order over candidates given
// the set of already-registered ids. A required dependency absent from both
// sets fails with DependencyMissing; missingOptional lists, per candidate,
// the optional dependencies absent from both sets (a warning, not a
// failure).
func resolveLoadOrder(candidates []loadCandidate, registered map[string]bool) (order []string, missingOptional map[string][]string, err *plugins.Error) {
	byID := make(map[string]loadCandidate, len(candidates))
	for _, c := range candidates {
		if _, dup := byID[c.id]; dup {
			return nil, nil, plugins.Newf(plugins.AlreadyExists, "duplicate plugin id %q in batch", c.id)
		}
		byID[c.id] = c
	}

	adjacency := make(map[string][]string) // dep -> dependents, edges point from requirement to requirer
	inDegree := make(map[string]int, len(byID))
	for id := range byID {
		inDegree[id] = 0
	}

	missingOptional = make(map[string][]string)

	for _, c := range candidates {
		for _, depID := range c.meta.Dependencies {
			if registered[depID] {
				continue // already satisfied, no edge needed within this batch
			}
			if _, inBatch := byID[depID]; !inBatch {
				return nil, nil, plugins.Newf(plugins.DependencyMissing, "plugin %s requires missing dependency %s", c.id, depID).
					WithDetails(depID)
			}
			adjacency[depID] = append(adjacency[depID], c.id)
			inDegree[c.id]++
		}
		for _, depID := range c.meta.OptionalDependencies {
			if registered[depID] {
				continue
			}
			if _, inBatch := byID[depID]; !inBatch {
				missingOptional[c.id] = append(missingOptional[c.id], depID)
				continue
			}
			adjacency[depID] = append(adjacency[depID], c.id)
			inDegree[c.id]++
		}
	}

	// Kahn's algorithm, ready set kept sorted so ties break lexicographically
	// by id, per spec.md §4.7.
	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(byID))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var freed []string
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		if len(freed) > 0 {
			sort.Strings(freed)
			ready = mergeSorted(ready, freed)
		}
	}

	if len(order) != len(byID) {
		cycle := describeCycle(byID, inDegree)
		return nil, nil, plugins.Newf(plugins.DependencyMissing, "circular dependency detected: %s", cycle).WithDetails(cycle)
	}

	return order, missingOptional, nil
}

// mergeSorted merges two already-sorted string slices, preserving order.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// describeCycle names one unresolved cycle among the plugins whose
// in-degree never reached zero, by walking dependency edges from an
// arbitrary unresolved node until one repeats.
func describeCycle(byID map[string]loadCandidate, inDegree map[string]int) string {
	var start string
	for id, d := range inDegree {
		if d > 0 {
			start = id
			break
		}
	}
	if start == "" {
		return "unknown cycle"
	}

	visited := map[string]bool{}
	path := []string{start}
	current := start
	for {
		visited[current] = true
		next := ""
		cand := byID[current]
		for _, depID := range cand.meta.Dependencies {
			if inDegree[depID] > 0 {
				next = depID
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if visited[next] {
			break
		}
		current = next
	}

	out := path[0]
	for _, id := range path[1:] {
		out += " -> " + id
	}
	return out
}

// unloadOrder returns ids in reverse topological order (dependents before
// their dependencies) so a force-cascade unload never removes a plugin
// before something still depending on it, per spec.md §4.1.
func unloadOrder(records map[string]*plugins.Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	adjacency := make(map[string][]string) // dep -> dependents
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, id := range ids {
		rec := records[id]
		for _, depID := range rec.Metadata.Dependencies {
			if _, ok := records[depID]; !ok {
				continue
			}
			adjacency[depID] = append(adjacency[depID], id)
			inDegree[id]++
		}
	}

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var loadOrder []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		loadOrder = append(loadOrder, id)

		var freed []string
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		if len(freed) > 0 {
			sort.Strings(freed)
			ready = mergeSorted(ready, freed)
		}
	}
	// Disconnected/cyclic leftovers still get a deterministic place at the
	// end of load order, mirroring the teacher's defensive fallback.
	if len(loadOrder) != len(ids) {
		placed := make(map[string]bool, len(loadOrder))
		for _, id := range loadOrder {
			placed[id] = true
		}
		var rest []string
		for _, id := range ids {
			if !placed[id] {
				rest = append(rest, id)
			}
		}
		loadOrder = append(loadOrder, rest...)
	}

	out := make([]string, len(loadOrder))
	for i, id := range loadOrder {
		out[len(loadOrder)-1-i] = id
	}
	return out
}

// computeLevels assigns each id in order a dependency depth (0 for a
// plugin whose required dependencies are all already registered), so the
// manager can load one level's worth of plugins in parallel before moving
// to the next, mirroring the teacher's TopologicalSort level calculation
// (memoized DFS over required dependencies only; optional dependencies do
// not affect level).
func computeLevels(order []string, byID map[string]loadCandidate, registered map[string]bool) map[string]int {
	memo := make(map[string]int, len(order))
	var depth func(id string) int
	depth = func(id string) int {
		if lv, ok := memo[id]; ok {
			return lv
		}
		cand, ok := byID[id]
		if !ok {
			return 0
		}
		best := 0
		for _, depID := range cand.meta.Dependencies {
			if registered[depID] {
				continue
			}
			if lv := depth(depID) + 1; lv > best {
				best = lv
			}
		}
		memo[id] = best
		return best
	}
	for _, id := range order {
		depth(id)
	}
	return memo
}

// dependents returns the ids in records that directly depend on id via a
// required dependency.
func dependents(records map[string]*plugins.Record, id string) []string {
	var out []string
	for candID, rec := range records {
		for _, dep := range rec.Metadata.Dependencies {
			if dep == id {
				out = append(out, candID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
