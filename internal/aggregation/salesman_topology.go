package aggregation

import (
	"context"
	"log/slog"
	"time"

	coreagg "github.com/teamred/datapipeline/internal/core/aggregation"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/stream"
)

// SalesmanSink receives full-state salesperson snapshots.
type SalesmanSink interface {
	UpsertSalesmanStats(ctx context.Context, snap coreagg.SalesmanSnapshot) error
}

// SalesmanTopology aggregates sales per salesperson over tumbling windows.
// It runs independently of the city topology over the same merged input.
type SalesmanTopology struct {
	consumer    *stream.Consumer
	store       *coreagg.Store[*coreagg.SalesmanAggregate]
	sink        SalesmanSink
	intake      intake
	pollTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewSalesmanTopology subscribes a dedicated consumer group to the
// salesperson-keyed topic.
func NewSalesmanTopology(bus *stream.Bus, sink SalesmanSink, m *metrics.Metrics, window coreagg.WindowSpec, pollTimeout time.Duration) *SalesmanTopology {
	return &SalesmanTopology{
		consumer:    bus.NewConsumer("salesman-aggregator", stream.TopicKeyedSalesman),
		store:       coreagg.NewStore[*coreagg.SalesmanAggregate](),
		sink:        sink,
		intake:      intake{component: "salesman_aggregator", window: window, metrics: m},
		pollTimeout: pollTimeout,
		metrics:     m,
	}
}

// Run processes the keyed stream until ctx is cancelled, then drains and
// commits before returning.
func (t *SalesmanTopology) Run(ctx context.Context) error {
	slog.Info("[SalesmanTopology] Started", "window_size", t.intake.window.Size)
	for {
		recs, err := t.consumer.Poll(ctx, t.pollTimeout, defaultPollBatch)
		if err != nil {
			t.consumer.Commit()
			slog.Info("[SalesmanTopology] Stopped", "live_windows", t.store.Len())
			return nil
		}
		if len(recs) == 0 {
			continue
		}
		for _, rec := range recs {
			t.handle(ctx, rec)
		}
		t.store.RetireBefore(t.intake.watermark, t.intake.window.Size)
		t.consumer.Commit()
	}
}

func (t *SalesmanTopology) handle(ctx context.Context, rec stream.Record) {
	win, err := t.intake.admit(rec)
	if err != nil {
		return
	}

	key := coreagg.Key{DimensionKey: rec.Key, WindowStart: win.Start}
	agg, exists := t.store.Get(key)
	if !exists {
		agg = coreagg.NewSalesmanAggregate(rec.Key, win)
		t.store.Put(key, agg)
	}
	agg.Apply(rec.Event)
	t.metrics.EventsProcessed.WithLabelValues("salesman_aggregator").Inc()

	snap := agg.Snapshot()
	t.metrics.SnapshotsEmitted.WithLabelValues("salesman").Inc()
	if err := t.sink.UpsertSalesmanStats(ctx, snap); err != nil {
		t.metrics.SinkWriteFailures.WithLabelValues("top_sales_by_salesman").Inc()
		slog.Error("[SalesmanTopology] Sink write failed, snapshot dropped",
			"salesman_id", snap.SalesmanID, "window_start", snap.WindowStart, "error", err)
		return
	}

	slog.Info("[SalesmanTopology] Salesman stats aggregated",
		"salesman_id", snap.SalesmanID,
		"total_sales", snap.TotalSales,
		"cities", snap.CitiesCount)
}
