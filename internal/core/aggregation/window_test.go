package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWindowSize(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "10s", want: 10 * time.Second},
		{input: "1m", want: time.Minute},
		{input: "1h", want: time.Hour},
		{input: "2d", want: 48 * time.Hour},
		{input: "", wantErr: true},
		{input: "banana", wantErr: true},
		{input: "-1h", wantErr: true},
		{input: "0s", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			spec, err := ParseWindowSize(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, spec.Size)
		})
	}
}

func TestWindowFor(t *testing.T) {
	ts := time.Date(2026, 3, 15, 10, 35, 42, 0, time.UTC)
	win := WindowFor(ts, time.Hour)
	require.Equal(t, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), win.Start)
	require.Equal(t, time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC), win.End)
}

func TestWindowFor_Boundary(t *testing.T) {
	// An event exactly at a window boundary belongs to the next window.
	boundary := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)
	win := WindowFor(boundary, time.Hour)
	require.Equal(t, boundary, win.Start)
	require.Equal(t, boundary.Add(time.Hour), win.End)
}

func TestWindow_Contains(t *testing.T) {
	win := WindowFor(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC), time.Hour)
	require.True(t, win.Contains(win.Start))
	require.True(t, win.Contains(win.End.Add(-time.Millisecond)))
	require.False(t, win.Contains(win.End))
	require.False(t, win.Contains(win.Start.Add(-time.Millisecond)))
}

func TestWindowFor_Tiling(t *testing.T) {
	// Consecutive windows tile the timeline with no gap and no overlap.
	size := 10 * time.Second
	prev := WindowFor(time.Date(2026, 3, 15, 10, 0, 3, 0, time.UTC), size)
	next := WindowFor(prev.End, size)
	require.Equal(t, prev.End, next.Start)
}
