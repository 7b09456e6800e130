package lineage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stepAt(stage, topic string, partition int, offset int64) Step {
	return Step{
		Stage:      stage,
		Topic:      topic,
		Partition:  partition,
		Offset:     offset,
		ObservedAt: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestStepKey(t *testing.T) {
	s := stepAt("ingestion", "sales.raw.file", 3, 42)
	require.Equal(t, "ingestion@sales.raw.file-3@42", s.Key())

	// Same offset on a different partition is a distinct observation.
	require.NotEqual(t, s.Key(), stepAt("ingestion", "sales.raw.file", 4, 42).Key())
	require.NotEqual(t, s.Key(), stepAt("aggregation", "sales.raw.file", 3, 42).Key())
}

func TestMerge_UnionsSteps(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	ingestTS := time.Date(2026, 3, 15, 9, 0, 1, 0, time.UTC)

	a := NewRecord("lin-1", "SALE-001", "FILE", sourceTS, ingestTS,
		stepAt("ingestion", "sales.raw.file", 0, 7))
	b := NewRecord("lin-1", "SALE-001", "FILE", sourceTS, ingestTS,
		stepAt("aggregation", "sales.keyed.city", 2, 11))

	a.Merge(b)
	require.Len(t, a.Steps, 2)
	require.Contains(t, a.Steps, "ingestion@sales.raw.file-0@7")
	require.Contains(t, a.Steps, "aggregation@sales.keyed.city-2@11")
}

func TestMerge_Commutative(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	ingestTS := sourceTS.Add(time.Second)

	mk := func() (*Record, *Record) {
		a := NewRecord("lin-1", "SALE-001", "SOAP", sourceTS, ingestTS,
			stepAt("ingestion", "sales.raw.soap", 1, 3))
		b := NewRecord("lin-1", "SALE-001", "SOAP", sourceTS, ingestTS,
			stepAt("aggregation", "sales.keyed.salesman", 0, 9))
		return a, b
	}

	ab, b1 := mk()
	ab.Merge(b1)
	a2, ba := mk()
	ba.Merge(a2)

	require.Equal(t, ab.Steps, ba.Steps)
	require.Equal(t, ab.SaleID, ba.SaleID)
	require.Equal(t, ab.SourceTimestamp, ba.SourceTimestamp)
}

func TestMerge_Idempotent(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	a := NewRecord("lin-1", "SALE-001", "DB", sourceTS, sourceTS,
		stepAt("ingestion", "sales.raw.db", 0, 0))

	dup := NewRecord("lin-1", "SALE-001", "DB", sourceTS, sourceTS,
		stepAt("ingestion", "sales.raw.db", 0, 0))

	a.Merge(dup)
	a.Merge(dup)
	require.Len(t, a.Steps, 1)
}

func TestMerge_IdentitySetOnce(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	a := NewRecord("lin-1", "SALE-001", "FILE", sourceTS, sourceTS,
		stepAt("ingestion", "sales.raw.file", 0, 0))

	other := NewRecord("lin-1", "SALE-OTHER", "DB", sourceTS.Add(time.Hour), sourceTS.Add(time.Hour),
		stepAt("aggregation", "sales.keyed.city", 0, 1))

	a.Merge(other)
	require.Equal(t, "SALE-001", a.SaleID)
	require.Equal(t, "FILE", a.SourceSystem)
	require.Equal(t, sourceTS, a.SourceTimestamp)
}

func TestMerge_Nil(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	a := NewRecord("lin-1", "SALE-001", "FILE", sourceTS, sourceTS,
		stepAt("ingestion", "sales.raw.file", 0, 0))
	a.Merge(nil)
	require.Len(t, a.Steps, 1)
}

func TestMerge_FillsEmptyIdentity(t *testing.T) {
	bare := &Record{LineageID: "lin-1"}
	sourceTS := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	full := NewRecord("lin-1", "SALE-001", "FILE", sourceTS, sourceTS,
		stepAt("ingestion", "sales.raw.file", 0, 0))

	bare.Merge(full)
	require.Equal(t, "SALE-001", bare.SaleID)
	require.Equal(t, "FILE", bare.SourceSystem)
	require.Len(t, bare.Steps, 1)
}
