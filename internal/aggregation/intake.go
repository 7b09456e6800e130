// Package aggregation runs the windowed rollup workers. Each dimension (city,
// salesperson) gets its own long-lived worker pulling from its keyed topic in
// a bounded polling loop. A worker is the sole owner of its state arena, so
// processing for any given key is strictly sequential.
package aggregation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreagg "github.com/teamred/datapipeline/internal/core/aggregation"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/stream"
)

const defaultPollBatch = 256

// Admission failures, distinguishable so handlers and tests can assert on the
// drop reason instead of a swallowed log line.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrClosedWindow   = errors.New("window already closed")
)

// intake applies the admission rules shared by both dimensions: validation,
// window assignment and the no-grace late-event policy. The watermark is the
// maximum event time seen; a window is closed once the watermark reaches its
// end boundary, and closed windows never reopen.
type intake struct {
	component string
	window    coreagg.WindowSpec
	watermark time.Time
	metrics   *metrics.Metrics
}

func (in *intake) admit(rec stream.Record) (coreagg.Window, error) {
	ev := rec.Event
	if ev == nil {
		in.metrics.EventsDropped.WithLabelValues(in.component, "malformed").Inc()
		return coreagg.Window{}, ErrMalformedEvent
	}
	if err := ev.Validate(); err != nil {
		in.metrics.EventsDropped.WithLabelValues(in.component, "malformed").Inc()
		slog.Warn("[Aggregator] Dropping malformed event",
			"component", in.component, "sale_id", ev.SaleID, "error", err)
		return coreagg.Window{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	ts := ev.EventTime()
	win := coreagg.WindowFor(ts, in.window.Size)
	if !win.End.After(in.watermark) {
		in.metrics.EventsDropped.WithLabelValues(in.component, "closed_window").Inc()
		slog.Warn("[Aggregator] Dropping event for closed window",
			"component", in.component, "sale_id", ev.SaleID,
			"event_time", ts, "watermark", in.watermark)
		return coreagg.Window{}, ErrClosedWindow
	}
	if ts.After(in.watermark) {
		in.watermark = ts
	}
	return win, nil
}
