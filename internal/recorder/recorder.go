// Package recorder builds the audit trail. It taps the raw connector topics
// and the keyed aggregation topics with its own consumer group, so the trail
// is maintained independently of (and concurrently with) the rollup workers.
package recorder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teamred/datapipeline/internal/lineage"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/stream"
)

// Stage names recorded per observation, derived from the topic a record was
// seen on.
const (
	StageIngestion   = "ingestion"
	StageAggregation = "aggregation"
)

// Store is the merge-on-conflict persistence boundary.
type Store interface {
	MergeRecord(ctx context.Context, rec *lineage.Record) error
}

// Recorder consumes every pipeline topic and merges one transformation step
// per observation into the lineage table.
type Recorder struct {
	consumer    *stream.Consumer
	store       Store
	pollTimeout time.Duration
	metrics     *metrics.Metrics
}

// New subscribes the recorder's consumer group to the raw and keyed topics.
func New(bus *stream.Bus, store Store, m *metrics.Metrics, pollTimeout time.Duration) *Recorder {
	topics := append(stream.RawTopics(), stream.TopicKeyedCity, stream.TopicKeyedSalesman)
	return &Recorder{
		consumer:    bus.NewConsumer("lineage-recorder", topics...),
		store:       store,
		pollTimeout: pollTimeout,
		metrics:     m,
	}
}

// Run records observations until ctx is cancelled, then drains and commits.
func (r *Recorder) Run(ctx context.Context) error {
	slog.Info("[LineageRecorder] Started")
	for {
		recs, err := r.consumer.Poll(ctx, r.pollTimeout, defaultPollBatch)
		if err != nil {
			r.consumer.Commit()
			slog.Info("[LineageRecorder] Stopped")
			return nil
		}
		if len(recs) == 0 {
			continue
		}
		for _, rec := range recs {
			r.record(ctx, rec)
		}
		r.consumer.Commit()
	}
}

const defaultPollBatch = 256

func (r *Recorder) record(ctx context.Context, rec stream.Record) {
	audit, ok := r.resolve(rec)
	if !ok {
		r.metrics.EventsDropped.WithLabelValues("lineage_recorder", "missing_lineage").Inc()
		slog.Warn("[LineageRecorder] Dropping record without lineage id",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
		return
	}

	if err := r.store.MergeRecord(ctx, audit); err != nil {
		r.metrics.SinkWriteFailures.WithLabelValues("data_lineage").Inc()
		slog.Error("[LineageRecorder] Merge failed, observation dropped",
			"lineage_id", audit.LineageID, "error", err)
		return
	}
	r.metrics.LineageRecordsMerged.Inc()
	slog.Debug("[LineageRecorder] Tracked lineage",
		"sale_id", audit.SaleID, "stage", StageFor(rec.Topic))
}

// resolve reads correlation metadata from the propagated headers, falling
// back to the event payload for records produced before headers existed.
func (r *Recorder) resolve(rec stream.Record) (*lineage.Record, bool) {
	ev := rec.Event

	lineageID, ok := lineage.Read(rec.Headers, lineage.HeaderLineageID)
	if !ok && ev != nil {
		lineageID = ev.LineageID
	}
	if lineageID == "" {
		return nil, false
	}

	sourceSystem, ok := lineage.Read(rec.Headers, lineage.HeaderSourceSystem)
	if !ok && ev != nil {
		sourceSystem = string(ev.SourceSystem)
	}

	sourceTS, ok := lineage.ReadTime(rec.Headers, lineage.HeaderSourceTimestamp)
	if !ok && ev != nil {
		sourceTS = ev.EventTime()
	}
	ingestionTS, ok := lineage.ReadTime(rec.Headers, lineage.HeaderIngestionTimestamp)
	if !ok && ev != nil {
		ingestionTS = ev.IngestionTime()
	}

	saleID := ""
	if ev != nil {
		saleID = ev.SaleID
	}

	step := lineage.Step{
		Stage:      StageFor(rec.Topic),
		Topic:      rec.Topic,
		Partition:  rec.Partition,
		Offset:     rec.Offset,
		ObservedAt: time.Now().UTC(),
	}
	return lineage.NewRecord(lineageID, saleID, sourceSystem, sourceTS, ingestionTS, step), true
}

// StageFor maps a topic to the processing stage it represents.
func StageFor(topic string) string {
	switch {
	case strings.HasPrefix(topic, "sales.raw."):
		return StageIngestion
	case strings.HasPrefix(topic, "sales.keyed."):
		return StageAggregation
	default:
		return topic
	}
}
