package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_GetPut(t *testing.T) {
	s := NewStore[*CityAggregate]()
	win := WindowFor(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), time.Hour)
	key := Key{DimensionKey: "Lisbon", WindowStart: win.Start}

	_, ok := s.Get(key)
	require.False(t, ok)

	agg := NewCityAggregate("Lisbon", win)
	s.Put(key, agg)

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Same(t, agg, got)
	require.Equal(t, 1, s.Len())
}

func TestStore_RetireBefore(t *testing.T) {
	s := NewStore[*CityAggregate]()
	size := time.Hour
	w10 := WindowFor(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), size)
	w11 := WindowFor(time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC), size)

	s.Put(Key{DimensionKey: "Lisbon", WindowStart: w10.Start}, NewCityAggregate("Lisbon", w10))
	s.Put(Key{DimensionKey: "Lisbon", WindowStart: w11.Start}, NewCityAggregate("Lisbon", w11))

	// Watermark exactly at the 10:00 window's end closes only that window.
	retired := s.RetireBefore(w10.End, size)
	require.Len(t, retired, 1)
	require.Equal(t, w10.Start, retired[0].WindowStart)
	require.Equal(t, 1, s.Len())

	_, ok := s.Get(Key{DimensionKey: "Lisbon", WindowStart: w11.Start})
	require.True(t, ok)
}

func TestStore_RetireBefore_KeepsOpenWindows(t *testing.T) {
	s := NewStore[*CityAggregate]()
	size := time.Hour
	win := WindowFor(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), size)
	s.Put(Key{DimensionKey: "Lisbon", WindowStart: win.Start}, NewCityAggregate("Lisbon", win))

	// Watermark inside the window retires nothing.
	retired := s.RetireBefore(win.Start.Add(30*time.Minute), size)
	require.Empty(t, retired)
	require.Equal(t, 1, s.Len())
}

func TestStore_ExportRestore(t *testing.T) {
	s := NewStore[*CityAggregate]()
	win := WindowFor(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), time.Hour)
	key := Key{DimensionKey: "Lisbon", WindowStart: win.Start}
	s.Put(key, NewCityAggregate("Lisbon", win))

	exported := s.Export()
	require.Len(t, exported, 1)

	fresh := NewStore[*CityAggregate]()
	fresh.Restore(exported)
	got, ok := fresh.Get(key)
	require.True(t, ok)
	require.Equal(t, "Lisbon", got.City)
}
