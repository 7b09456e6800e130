// Package connector holds the three source adapters at their pipeline
// boundary: each one turns source-specific payloads into canonical events,
// mints the lineage id exactly once, stamps lineage headers and publishes to
// its raw topic. Protocol internals stay inside each adapter; the rest of
// the pipeline only ever sees canonical events.
package connector

import (
	"log/slog"
	"time"

	"github.com/teamred/datapipeline/internal/lineage"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/model"
	"github.com/teamred/datapipeline/internal/stream"
)

// Producer is the shared publish path for one source system.
type Producer struct {
	topic     *stream.Topic
	source    model.SourceSystem
	component string
	dedup     *Dedup
	metrics   *metrics.Metrics
}

// NewProducer builds the publish path for source onto topicName. dedupSize
// bounds the per-source duplicate suppression window.
func NewProducer(bus *stream.Bus, topicName string, source model.SourceSystem, component string, dedupSize int, m *metrics.Metrics) (*Producer, error) {
	dedup, err := NewDedup(dedupSize)
	if err != nil {
		return nil, err
	}
	return &Producer{
		topic:     bus.Topic(topicName),
		source:    source,
		component: component,
		dedup:     dedup,
		metrics:   m,
	}, nil
}

// Publish normalizes, deduplicates and appends one event. Returns false when
// the event was dropped (malformed or already seen from this source).
func (p *Producer) Publish(ev *model.CanonicalSaleEvent) bool {
	p.normalize(ev)
	if err := ev.Validate(); err != nil {
		p.metrics.EventsDropped.WithLabelValues(p.component, "malformed").Inc()
		slog.Warn("[Connector] Dropping malformed event",
			"component", p.component, "sale_id", ev.SaleID, "error", err)
		return false
	}
	if p.dedup.Seen(ev.SaleID) {
		p.metrics.EventsDropped.WithLabelValues(p.component, "duplicate").Inc()
		slog.Debug("[Connector] Dropping duplicate event",
			"component", p.component, "sale_id", ev.SaleID)
		return false
	}

	headers := make(lineage.Headers, 4)
	lineage.Attach(headers, ev.LineageID, ev.SourceSystem, ev.EventTime())
	p.topic.Append(ev.SaleID, ev, headers)
	p.metrics.EventsProcessed.WithLabelValues(p.component).Inc()
	return true
}

// normalize stamps the set-once envelope fields. The lineage id is minted
// here — the earliest point the event exists — iff no upstream hop minted one
// already; it is never regenerated downstream.
func (p *Producer) normalize(ev *model.CanonicalSaleEvent) {
	if ev.SourceSystem == "" {
		ev.SourceSystem = p.source
	}
	if ev.IngestionTimestamp == 0 {
		ev.IngestionTimestamp = time.Now().UnixMilli()
	}
	if ev.LineageID == "" {
		ev.LineageID = lineage.Generate()
	}
}
