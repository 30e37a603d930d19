// This file (metrics.go) implements system_metrics() per spec.md §6's exact
// JSON shape, and the Prometheus gatherer auto-registration hook for
// plugins implementing plugins.MetricsGatherer, grounded on the teacher's
// lifecycle.go registering each loaded plugin's gatherer against a
// prometheus.Registry on load and unregistering it on unload.
package pluginrt

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynxforge/pluginrt/plugins"
)

// ResourcePoolMetric is one pool's entry in SystemMetrics.ResourcePools, per
// spec.md §6's `resource_pools:[{name,type,active}]`.
type ResourcePoolMetric struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active int    `json:"active"`
}

// SystemMetrics is the exact shape spec.md §6 names for system_metrics():
// `{plugin_count, by_state:{…}, messages_published, messages_delivered,
// delivery_failures, validations_{performed,passed,failed},
// resource_pools:[{name,type,active}], …}`.
type SystemMetrics struct {
	PluginCount int            `json:"plugin_count"`
	ByState     map[string]int `json:"by_state"`

	MessagesPublished int64 `json:"messages_published"`
	MessagesDelivered int64 `json:"messages_delivered"`
	DeliveryFailures  int64 `json:"delivery_failures"`

	// TotalSubscriptions/UniqueSubscribers/MessageTypes supplement spec.md
	// §4.6's bare counters with message_bus.cpp's statistics() fields, per
	// SPEC_FULL.md's "Message bus statistics fields."
	TotalSubscriptions int `json:"total_subscriptions"`
	UniqueSubscribers  int `json:"unique_subscribers"`
	MessageTypes       int `json:"message_types"`

	ValidationsPerformed int64 `json:"validations_performed"`
	ValidationsPassed    int64 `json:"validations_passed"`
	ValidationsFailed    int64 `json:"validations_failed"`

	ResourcePools        []ResourcePoolMetric `json:"resource_pools"`
	ResourceCleanupCount int64                `json:"resource_cleanup_count"`
}

// SystemMetrics assembles the current snapshot across the registry, the
// bus, the resource manager, and the validator's running counters.
func (m *Manager) SystemMetrics() *SystemMetrics {
	m.mu.RLock()
	byState := make(map[string]int, 10)
	for _, rec := range m.registry {
		byState[rec.State.String()]++
	}
	pluginCount := len(m.registry)
	m.mu.RUnlock()

	busStats := m.msgBus.Statistics()

	poolSummaries := m.resources.PoolSummaries()
	resourcePools := make([]ResourcePoolMetric, len(poolSummaries))
	for i, p := range poolSummaries {
		resourcePools[i] = ResourcePoolMetric{Name: p.Name, Type: string(p.Type), Active: p.Active}
	}

	return &SystemMetrics{
		PluginCount:          pluginCount,
		ByState:              byState,
		MessagesPublished:    busStats.MessagesPublished,
		MessagesDelivered:    busStats.MessagesDelivered,
		DeliveryFailures:     busStats.DeliveryFailures,
		TotalSubscriptions:   busStats.TotalSubscriptions,
		UniqueSubscribers:    busStats.UniqueSubscribers,
		MessageTypes:         busStats.MessageTypes,
		ValidationsPerformed: atomic.LoadInt64(&m.validationsPerformed),
		ValidationsPassed:    atomic.LoadInt64(&m.validationsPassed),
		ValidationsFailed:    atomic.LoadInt64(&m.validationsFailed),
		ResourcePools:        resourcePools,
		ResourceCleanupCount: m.resources.CleanupCount(),
	}
}

// MetricsRegistry exposes the Prometheus registry backing per-plugin
// gatherers, so host code can serve it through promhttp.HandlerFor.
func (m *Manager) MetricsRegistry() *prometheus.Registry { return m.metricsRegistry }

// pluginGathererCollector adapts a plugin's MetricsGatherer to
// prometheus.Collector, exposing every key Gather() returns as a gauge
// labeled by plugin id and metric name.
type pluginGathererCollector struct {
	pluginID string
	gatherer plugins.MetricsGatherer
	desc     *prometheus.Desc
}

func newPluginGathererCollector(pluginID string, g plugins.MetricsGatherer) *pluginGathererCollector {
	return &pluginGathererCollector{
		pluginID: pluginID,
		gatherer: g,
		desc: prometheus.NewDesc(
			"pluginrt_plugin_metric",
			"Plugin-reported metric value, as returned by the plugin's Gather method.",
			[]string{"plugin_id", "metric"},
			nil,
		),
	}
}

func (c *pluginGathererCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *pluginGathererCollector) Collect(ch chan<- prometheus.Metric) {
	values, err := c.gatherer.Gather()
	if err != nil {
		return
	}
	for name, v := range values {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v, c.pluginID, name)
	}
}

// registerGatherer registers instance's collector if it implements
// MetricsGatherer; a registration conflict (duplicate descriptor) is
// ignored, since metrics visibility is best-effort and must never fail a
// load.
func (m *Manager) registerGatherer(id string, instance any) {
	gatherer, ok := instance.(plugins.MetricsGatherer)
	if !ok {
		return
	}
	collector := newPluginGathererCollector(id, gatherer)
	if err := m.metricsRegistry.Register(collector); err != nil {
		return
	}
	m.metricsMu.Lock()
	m.gatherers[id] = collector
	m.metricsMu.Unlock()
}

func (m *Manager) unregisterGatherer(id string) {
	m.metricsMu.Lock()
	collector, ok := m.gatherers[id]
	delete(m.gatherers, id)
	m.metricsMu.Unlock()
	if ok {
		m.metricsRegistry.Unregister(collector)
	}
}
