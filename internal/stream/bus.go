// Package stream is the in-process transport the pipeline runs on: partitioned
// append-only topics with per-partition offsets, header-bearing records and
// consumer groups with explicit commits. Records sharing a key always land in
// the same partition, so per-key order is append order; nothing is guaranteed
// across keys or across topics.
package stream

import (
	"sync"
	"time"

	"github.com/teamred/datapipeline/internal/core/partition"
	"github.com/teamred/datapipeline/internal/lineage"
	"github.com/teamred/datapipeline/internal/model"
)

// Record is one entry in a topic partition. The event is owned by whichever
// stage currently holds the record; stages forward, they do not mutate.
type Record struct {
	Topic      string
	Partition  int
	Offset     int64
	Key        string
	Event      *model.CanonicalSaleEvent
	Headers    lineage.Headers
	AppendedAt time.Time
}

// Bus owns the set of topics and the consumer-group offsets.
type Bus struct {
	mu         sync.RWMutex
	partitions int
	topics     map[string]*Topic
	committed  map[string]map[topicPartition]int64 // group → position
	subs       []chan struct{}
}

type topicPartition struct {
	topic     string
	partition int
}

// NewBus creates a bus whose topics carry the given partition count.
func NewBus(partitions int) *Bus {
	if partitions <= 0 {
		partitions = partition.DefaultCount
	}
	return &Bus{
		partitions: partitions,
		topics:     make(map[string]*Topic),
		committed:  make(map[string]map[topicPartition]int64),
	}
}

// Topic returns the named topic, creating it on first use.
func (b *Bus) Topic(name string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = newTopic(b, name, b.partitions)
		b.topics[name] = t
	}
	return t
}

func (b *Bus) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// notify wakes idle consumers. Non-blocking: a consumer that already has a
// pending wakeup does not need another.
func (b *Bus) notify() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) committedOffset(group string, tp topicPartition) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if offsets, ok := b.committed[group]; ok {
		return offsets[tp]
	}
	return 0
}

func (b *Bus) commit(group string, positions map[topicPartition]int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	offsets, ok := b.committed[group]
	if !ok {
		offsets = make(map[topicPartition]int64, len(positions))
		b.committed[group] = offsets
	}
	for tp, pos := range positions {
		if pos > offsets[tp] {
			offsets[tp] = pos
		}
	}
}

// Topic is a named, partitioned append log. Partition logs are retained so
// independent consumer groups (aggregators, lineage recorder) each read the
// full stream at their own pace.
type Topic struct {
	bus   *Bus
	name  string
	parts []*partitionLog
}

type partitionLog struct {
	mu      sync.RWMutex
	records []Record
}

func newTopic(b *Bus, name string, partitions int) *Topic {
	parts := make([]*partitionLog, partitions)
	for i := range parts {
		parts[i] = &partitionLog{}
	}
	return &Topic{bus: b, name: name, parts: parts}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Partitions returns the partition count.
func (t *Topic) Partitions() int { return len(t.parts) }

// Append routes the record by key and appends it to the owning partition,
// returning the record as stored (with partition and offset assigned).
func (t *Topic) Append(key string, ev *model.CanonicalSaleEvent, h lineage.Headers) Record {
	p := partition.For(key, len(t.parts))
	log := t.parts[p]

	log.mu.Lock()
	rec := Record{
		Topic:      t.name,
		Partition:  p,
		Offset:     int64(len(log.records)),
		Key:        key,
		Event:      ev,
		Headers:    h,
		AppendedAt: time.Now().UTC(),
	}
	log.records = append(log.records, rec)
	log.mu.Unlock()

	t.bus.notify()
	return rec
}

// fetch returns up to max records from the partition starting at offset from.
func (t *Topic) fetch(p int, from int64, max int) []Record {
	log := t.parts[p]
	log.mu.RLock()
	defer log.mu.RUnlock()
	if from >= int64(len(log.records)) {
		return nil
	}
	end := from + int64(max)
	if end > int64(len(log.records)) {
		end = int64(len(log.records))
	}
	out := make([]Record, end-from)
	copy(out, log.records[from:end])
	return out
}

// HighWatermark returns the next offset to be assigned in partition p.
func (t *Topic) HighWatermark(p int) int64 {
	log := t.parts[p]
	log.mu.RLock()
	defer log.mu.RUnlock()
	return int64(len(log.records))
}
