package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamred/datapipeline/internal/lineage"
	"github.com/teamred/datapipeline/internal/model"
)

func testEvent(saleID string) *model.CanonicalSaleEvent {
	return &model.CanonicalSaleEvent{
		SaleID:       saleID,
		Timestamp:    time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC).UnixMilli(),
		SalesmanID:   "SEL001",
		ProductName:  "Widget",
		Quantity:     1,
		UnitPrice:    10,
		TotalAmount:  10,
		City:         "Lisbon",
		SourceSystem: model.SourceFile,
	}
}

func drain(t *testing.T, c *Consumer, want int) []Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []Record
	for len(out) < want {
		recs, err := c.Poll(ctx, 50*time.Millisecond, want)
		require.NoError(t, err)
		out = append(out, recs...)
	}
	return out
}

func TestTopic_AppendAssignsOffsets(t *testing.T) {
	bus := NewBus(1)
	topic := bus.Topic("t")

	r0 := topic.Append("k", testEvent("SALE-0"), nil)
	r1 := topic.Append("k", testEvent("SALE-1"), nil)

	require.Equal(t, 0, r0.Partition)
	require.Equal(t, int64(0), r0.Offset)
	require.Equal(t, int64(1), r1.Offset)
	require.Equal(t, int64(2), topic.HighWatermark(0))
}

func TestTopic_SameKeySamePartition(t *testing.T) {
	bus := NewBus(8)
	topic := bus.Topic("t")

	first := topic.Append("Lisbon", testEvent("SALE-0"), nil)
	for i := 1; i < 50; i++ {
		rec := topic.Append("Lisbon", testEvent(fmt.Sprintf("SALE-%d", i)), nil)
		require.Equal(t, first.Partition, rec.Partition)
		require.Equal(t, int64(i), rec.Offset)
	}
}

func TestConsumer_PerKeyOrdering(t *testing.T) {
	bus := NewBus(8)
	topic := bus.Topic("t")
	for i := 0; i < 30; i++ {
		topic.Append("Lisbon", testEvent(fmt.Sprintf("L-%d", i)), nil)
		topic.Append("Porto", testEvent(fmt.Sprintf("P-%d", i)), nil)
	}

	c := bus.NewConsumer("g", "t")
	recs := drain(t, c, 60)

	// Per key, records come back in append order regardless of interleaving.
	byKey := make(map[string][]string)
	for _, rec := range recs {
		byKey[rec.Key] = append(byKey[rec.Key], rec.Event.SaleID)
	}
	for i := 0; i < 30; i++ {
		require.Equal(t, fmt.Sprintf("L-%d", i), byKey["Lisbon"][i])
		require.Equal(t, fmt.Sprintf("P-%d", i), byKey["Porto"][i])
	}
}

func TestConsumer_IndependentGroups(t *testing.T) {
	bus := NewBus(4)
	topic := bus.Topic("t")
	for i := 0; i < 10; i++ {
		topic.Append("k", testEvent(fmt.Sprintf("SALE-%d", i)), nil)
	}

	a := bus.NewConsumer("group-a", "t")
	b := bus.NewConsumer("group-b", "t")

	// Both groups see the full stream.
	require.Len(t, drain(t, a, 10), 10)
	require.Len(t, drain(t, b, 10), 10)
}

func TestConsumer_CommitResumesGroup(t *testing.T) {
	bus := NewBus(1)
	topic := bus.Topic("t")
	for i := 0; i < 5; i++ {
		topic.Append("k", testEvent(fmt.Sprintf("SALE-%d", i)), nil)
	}

	c1 := bus.NewConsumer("g", "t")
	recs := drain(t, c1, 3)
	require.Len(t, recs, 3)
	c1.Commit()

	// A consumer of the same group resumes after the committed position.
	c2 := bus.NewConsumer("g", "t")
	recs = drain(t, c2, 2)
	require.Equal(t, "SALE-3", recs[0].Event.SaleID)
	require.Equal(t, "SALE-4", recs[1].Event.SaleID)
}

func TestConsumer_UncommittedReadsReplay(t *testing.T) {
	bus := NewBus(1)
	topic := bus.Topic("t")
	topic.Append("k", testEvent("SALE-0"), nil)

	c1 := bus.NewConsumer("g", "t")
	require.Len(t, drain(t, c1, 1), 1)
	// No commit: a restarted consumer of the group replays from zero.

	c2 := bus.NewConsumer("g", "t")
	recs := drain(t, c2, 1)
	require.Equal(t, "SALE-0", recs[0].Event.SaleID)
}

func TestConsumer_PollTimeout(t *testing.T) {
	bus := NewBus(1)
	c := bus.NewConsumer("g", "t")

	start := time.Now()
	recs, err := c.Poll(context.Background(), 30*time.Millisecond, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestConsumer_PollWakesOnAppend(t *testing.T) {
	bus := NewBus(1)
	c := bus.NewConsumer("g", "t")

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Topic("t").Append("k", testEvent("SALE-0"), nil)
	}()

	recs, err := c.Poll(context.Background(), 2*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestConsumer_DrainsBeforeCancelError(t *testing.T) {
	bus := NewBus(1)
	topic := bus.Topic("t")
	topic.Append("k", testEvent("SALE-0"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := bus.NewConsumer("g", "t")
	recs, err := c.Poll(ctx, time.Second, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, err = c.Poll(ctx, time.Second, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_Lag(t *testing.T) {
	bus := NewBus(2)
	topic := bus.Topic("t")
	c := bus.NewConsumer("g", "t")
	require.Zero(t, c.Lag())

	for i := 0; i < 6; i++ {
		topic.Append(fmt.Sprintf("k-%d", i), testEvent(fmt.Sprintf("SALE-%d", i)), nil)
	}
	require.Equal(t, int64(6), c.Lag())

	drain(t, c, 6)
	require.Zero(t, c.Lag())
}

func TestRecord_CarriesHeaders(t *testing.T) {
	bus := NewBus(1)
	topic := bus.Topic("t")

	h := lineage.Headers{lineage.HeaderLineageID: "lin-1"}
	topic.Append("k", testEvent("SALE-0"), h)

	c := bus.NewConsumer("g", "t")
	recs := drain(t, c, 1)
	got, ok := lineage.Read(recs[0].Headers, lineage.HeaderLineageID)
	require.True(t, ok)
	require.Equal(t, "lin-1", got)
}
