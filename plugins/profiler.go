package plugins

import (
	"sync"
	"time"
)

// Profiler collects lightweight per-plugin call-count and latency samples
// for every plugin callback the manager times (initialize, start, stop,
// pause, resume, shutdown, execute_command). Grounded on
// original_source/src/managers/PluginPerformanceProfiler.h, stripped of its
// GUI-facing reporting (out of scope per spec.md §1) and reduced to the
// data-collection core, read back through Manager.PluginProfile.
type Profiler struct {
	mu      sync.Mutex
	samples map[string][]time.Duration // pluginID.operation -> recent durations
	maxKeep int
}

// NewProfiler creates a profiler retaining up to maxSamples recent durations
// per (plugin, operation) key.
func NewProfiler(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = 100
	}
	return &Profiler{samples: make(map[string][]time.Duration), maxKeep: maxSamples}
}

// Record appends one timing sample for pluginID's operation.
func (p *Profiler) Record(pluginID, operation string, d time.Duration) {
	key := pluginID + "." + operation
	p.mu.Lock()
	defer p.mu.Unlock()
	s := append(p.samples[key], d)
	if len(s) > p.maxKeep {
		s = s[len(s)-p.maxKeep:]
	}
	p.samples[key] = s
}

// Stats returns the count and average latency for pluginID's operation.
func (p *Profiler) Stats(pluginID, operation string) (count int, avg time.Duration) {
	key := pluginID + "." + operation
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.samples[key]
	if len(s) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, d := range s {
		total += d
	}
	return len(s), total / time.Duration(len(s))
}

// Timer returns a stop function; calling it records the elapsed time since
// Timer was called. Usage: defer p.Timer(id, "initialize")().
func (p *Profiler) Timer(pluginID, operation string) func() {
	start := time.Now()
	return func() {
		p.Record(pluginID, operation, time.Since(start))
	}
}
