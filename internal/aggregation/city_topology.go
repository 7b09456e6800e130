package aggregation

import (
	"context"
	"log/slog"
	"time"

	coreagg "github.com/teamred/datapipeline/internal/core/aggregation"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/stream"
)

// CitySink receives full-state city snapshots. Every call carries the whole
// accumulated window state, so the sink upserts, never adds.
type CitySink interface {
	UpsertCitySales(ctx context.Context, snap coreagg.CitySnapshot) error
}

// CityTopology aggregates sales per city over tumbling windows, emitting a
// refined snapshot on every contributing event.
type CityTopology struct {
	consumer    *stream.Consumer
	store       *coreagg.Store[*coreagg.CityAggregate]
	sink        CitySink
	intake      intake
	pollTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewCityTopology subscribes a dedicated consumer group to the city-keyed topic.
func NewCityTopology(bus *stream.Bus, sink CitySink, m *metrics.Metrics, window coreagg.WindowSpec, pollTimeout time.Duration) *CityTopology {
	return &CityTopology{
		consumer:    bus.NewConsumer("city-aggregator", stream.TopicKeyedCity),
		store:       coreagg.NewStore[*coreagg.CityAggregate](),
		sink:        sink,
		intake:      intake{component: "city_aggregator", window: window, metrics: m},
		pollTimeout: pollTimeout,
		metrics:     m,
	}
}

// Run processes the keyed stream until ctx is cancelled, then drains what is
// already appended, commits, and returns. Offsets are committed only after
// the batch's sink writes, so a crash replays events into idempotent upserts
// instead of losing them.
func (t *CityTopology) Run(ctx context.Context) error {
	slog.Info("[CityTopology] Started", "window_size", t.intake.window.Size)
	for {
		recs, err := t.consumer.Poll(ctx, t.pollTimeout, defaultPollBatch)
		if err != nil {
			t.consumer.Commit()
			slog.Info("[CityTopology] Stopped", "live_windows", t.store.Len())
			return nil
		}
		if len(recs) == 0 {
			continue
		}
		for _, rec := range recs {
			t.handle(ctx, rec)
		}
		if retired := t.store.RetireBefore(t.intake.watermark, t.intake.window.Size); len(retired) > 0 {
			slog.Debug("[CityTopology] Retired closed windows", "count", len(retired))
		}
		t.consumer.Commit()
	}
}

func (t *CityTopology) handle(ctx context.Context, rec stream.Record) {
	win, err := t.intake.admit(rec)
	if err != nil {
		return
	}

	key := coreagg.Key{DimensionKey: rec.Key, WindowStart: win.Start}
	agg, exists := t.store.Get(key)
	if !exists {
		agg = coreagg.NewCityAggregate(rec.Key, win)
		t.store.Put(key, agg)
	}
	agg.Apply(rec.Event)
	t.metrics.EventsProcessed.WithLabelValues("city_aggregator").Inc()

	snap := agg.Snapshot()
	t.metrics.SnapshotsEmitted.WithLabelValues("city").Inc()
	if err := t.sink.UpsertCitySales(ctx, snap); err != nil {
		// The snapshot is dropped; the next event for this window re-emits a
		// superset of this state.
		t.metrics.SinkWriteFailures.WithLabelValues("top_sales_by_city").Inc()
		slog.Error("[CityTopology] Sink write failed, snapshot dropped",
			"city", snap.City, "window_start", snap.WindowStart, "error", err)
		return
	}

	slog.Info("[CityTopology] City sales aggregated",
		"city", snap.City,
		"total_sales", snap.TotalSales,
		"transactions", snap.TransactionCount)
}
