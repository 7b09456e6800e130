// Package metrics holds the pipeline's instrumentation context. The registry
// is constructed once at startup and handed to each component explicitly —
// there is no process-wide singleton, so tests get their own isolated
// registry and shutdown can flush a known set of collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the explicit instrumentation context passed to components at
// construction.
type Metrics struct {
	registry *prometheus.Registry

	// EventsProcessed counts events successfully handled, per component.
	EventsProcessed *prometheus.CounterVec

	// EventsDropped counts events discarded, per component and reason
	// (malformed, closed_window, duplicate, missing_key).
	EventsDropped *prometheus.CounterVec

	// SnapshotsEmitted counts aggregate snapshots handed to the sink, per dimension.
	SnapshotsEmitted *prometheus.CounterVec

	// SinkWriteFailures counts upserts that failed after retries, per table.
	SinkWriteFailures *prometheus.CounterVec

	// LineageRecordsMerged counts lineage records written or merged.
	LineageRecordsMerged prometheus.Counter
}

// New builds a Metrics context backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Events successfully processed, per component.",
		}, []string{"component"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_events_dropped_total",
			Help: "Events dropped, per component and reason.",
		}, []string{"component", "reason"}),
		SnapshotsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_snapshots_emitted_total",
			Help: "Aggregate snapshots emitted to the sink, per dimension.",
		}, []string{"dimension"}),
		SinkWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_sink_write_failures_total",
			Help: "Sink upserts that failed after retries, per table.",
		}, []string{"table"}),
		LineageRecordsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_lineage_records_merged_total",
			Help: "Lineage records written or merged into the audit table.",
		}),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.EventsDropped,
		m.SnapshotsEmitted,
		m.SinkWriteFailures,
		m.LineageRecordsMerged,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
