package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/teamred/datapipeline/internal/lineage"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/model"
)

// Topic names. The three raw topics carry canonical events straight off the
// connectors; the keyed topics carry the same events re-keyed by the
// dimension under aggregation.
const (
	TopicRawDB   = "sales.raw.db"
	TopicRawFile = "sales.raw.file"
	TopicRawSOAP = "sales.raw.soap"

	TopicKeyedCity     = "sales.keyed.city"
	TopicKeyedSalesman = "sales.keyed.salesman"
)

// RawTopics returns the connector output topics.
func RawTopics() []string {
	return []string{TopicRawDB, TopicRawFile, TopicRawSOAP}
}

// KeyFunc computes the dimension key for an event; ok=false means the event
// cannot be keyed and is dropped for that dimension.
type KeyFunc func(*model.CanonicalSaleEvent) (string, bool)

// KeyByCity keys events by city name.
func KeyByCity(ev *model.CanonicalSaleEvent) (string, bool) {
	return ev.City, ev.City != ""
}

// KeyBySalesman keys events by salesperson id.
func KeyBySalesman(ev *model.CanonicalSaleEvent) (string, bool) {
	return ev.SalesmanID, ev.SalesmanID != ""
}

type route struct {
	key KeyFunc
	out *Topic
}

// Router unions the three raw streams into one logical stream per dimension.
// It performs no cross-source deduplication: duplicate business keys arriving
// from different sources are distinct aggregation contributions, mirroring the
// upstream systems.
type Router struct {
	consumer    *Consumer
	routes      []route
	pollTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewRouter wires the raw topics to the two keyed topics.
func NewRouter(bus *Bus, m *metrics.Metrics, pollTimeout time.Duration) *Router {
	return &Router{
		consumer: bus.NewConsumer("key-router", RawTopics()...),
		routes: []route{
			{key: KeyByCity, out: bus.Topic(TopicKeyedCity)},
			{key: KeyBySalesman, out: bus.Topic(TopicKeyedSalesman)},
		},
		pollTimeout: pollTimeout,
		metrics:     m,
	}
}

// Run pumps records until ctx is cancelled, then drains what is already
// appended and commits before returning.
func (r *Router) Run(ctx context.Context) error {
	slog.Info("[Router] Started", "topics", RawTopics())
	for {
		recs, err := r.consumer.Poll(ctx, r.pollTimeout, 256)
		if err != nil {
			// Cancelled with nothing left to drain.
			r.consumer.Commit()
			slog.Info("[Router] Stopped", "reason", err)
			return nil
		}
		if len(recs) == 0 {
			continue
		}
		for _, rec := range recs {
			r.route(rec)
		}
		r.consumer.Commit()
	}
}

func (r *Router) route(rec Record) {
	for _, rt := range r.routes {
		key, ok := rt.key(rec.Event)
		if !ok {
			r.metrics.EventsDropped.WithLabelValues("router", "missing_key").Inc()
			slog.Warn("[Router] Dropping unkeyable event",
				"topic", rt.out.Name(), "sale_id", rec.Event.SaleID)
			continue
		}
		dst := make(lineage.Headers, len(rec.Headers)+1)
		lineage.Forward(rec.Headers, dst)
		rt.out.Append(key, rec.Event, dst)
	}
	r.metrics.EventsProcessed.WithLabelValues("router").Inc()
}
