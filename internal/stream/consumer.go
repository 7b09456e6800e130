package stream

import (
	"context"
	"time"
)

// Consumer reads one or more topics on behalf of a consumer group. Positions
// advance on Poll; they become durable (visible to a restarted consumer of
// the same group) only on Commit. Workers therefore commit after the sink
// write, never before — replay after a crash re-emits full-state snapshots,
// which the idempotent sink absorbs.
type Consumer struct {
	bus    *Bus
	group  string
	topics []*Topic
	next   map[topicPartition]int64
	notify chan struct{}
}

// NewConsumer creates a consumer for group over the named topics, resuming
// from the group's committed offsets.
func (b *Bus) NewConsumer(group string, topics ...string) *Consumer {
	c := &Consumer{
		bus:    b,
		group:  group,
		next:   make(map[topicPartition]int64),
		notify: b.subscribe(),
	}
	for _, name := range topics {
		t := b.Topic(name)
		c.topics = append(c.topics, t)
		for p := 0; p < t.Partitions(); p++ {
			tp := topicPartition{topic: name, partition: p}
			c.next[tp] = b.committedOffset(group, tp)
		}
	}
	return c
}

// Poll returns up to max records across the subscribed partitions. When
// nothing is available it blocks until new data arrives, the timeout lapses
// (returning nil), or ctx is cancelled. Records already appended are always
// returned before a cancellation error — shutdown must not silently drop
// in-flight events.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration, max int) ([]Record, error) {
	if max <= 0 {
		max = 1
	}

	if recs := c.fetch(max); len(recs) > 0 {
		return recs, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			// One last fetch so records appended during the wait are not lost.
			if recs := c.fetch(max); len(recs) > 0 {
				return recs, nil
			}
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-c.notify:
			if recs := c.fetch(max); len(recs) > 0 {
				return recs, nil
			}
		}
	}
}

func (c *Consumer) fetch(max int) []Record {
	var out []Record
	for _, t := range c.topics {
		for p := 0; p < t.Partitions(); p++ {
			if len(out) >= max {
				return out
			}
			tp := topicPartition{topic: t.Name(), partition: p}
			recs := t.fetch(p, c.next[tp], max-len(out))
			if len(recs) == 0 {
				continue
			}
			c.next[tp] = recs[len(recs)-1].Offset + 1
			out = append(out, recs...)
		}
	}
	return out
}

// Commit makes the current positions durable for the group.
func (c *Consumer) Commit() {
	c.bus.commit(c.group, c.next)
}

// Lag returns the total number of appended-but-unread records.
func (c *Consumer) Lag() int64 {
	var lag int64
	for _, t := range c.topics {
		for p := 0; p < t.Partitions(); p++ {
			tp := topicPartition{topic: t.Name(), partition: p}
			lag += t.HighWatermark(p) - c.next[tp]
		}
	}
	return lag
}
