package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/teamred/datapipeline/internal/model"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// DBSource captures row-level changes from the source database via
// LISTEN/NOTIFY: an insert trigger on the sales table notifies the channel
// with the new row serialized as JSON.
type DBSource struct {
	producer *Producer
	dsn      string
	channel  string
}

// NewDBSource builds a change-capture source on the given notification channel.
func NewDBSource(producer *Producer, dsn, channel string) *DBSource {
	return &DBSource{producer: producer, dsn: dsn, channel: channel}
}

// Run listens until ctx is cancelled. A lost connection is re-established by
// the listener itself; a nil notification marks the reconnect, after which
// rows inserted during the outage are not replayed (the dedup window plus
// idempotent sink make a manual backfill safe).
func (s *DBSource) Run(ctx context.Context) error {
	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				slog.Error("[DBSource] Listener event", "event", event, "error", err)
			}
		})
	defer listener.Close()

	if err := listener.Listen(s.channel); err != nil {
		return fmt.Errorf("listen on %s: %w", s.channel, err)
	}
	slog.Info("[DBSource] Started", "channel", s.channel)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[DBSource] Stopped")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				slog.Warn("[DBSource] Connection re-established, resuming")
				continue
			}
			s.handle(n.Extra)
		case <-time.After(listenerPingInterval):
			if err := listener.Ping(); err != nil {
				slog.Error("[DBSource] Ping failed", "error", err)
			}
		}
	}
}

func (s *DBSource) handle(payload string) {
	var ev model.CanonicalSaleEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.producer.metrics.EventsDropped.WithLabelValues(s.producer.component, "malformed").Inc()
		slog.Warn("[DBSource] Dropping undecodable notification", "error", err)
		return
	}
	s.producer.Publish(&ev)
}
