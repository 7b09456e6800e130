package aggregation

import (
	"fmt"
	"time"
)

// WindowSpec represents a parsed and validated tumbling-window size.
type WindowSpec struct {
	Size time.Duration
}

// ParseWindowSize parses a duration string into a WindowSpec.
// Supports Go duration syntax (e.g., "10s", "1m", "1h") plus "Xd" for days.
func ParseWindowSize(s string) (WindowSpec, error) {
	if s == "" {
		return WindowSpec{}, fmt.Errorf("window_size must not be empty")
	}

	// Handle "d" suffix (days) — not supported by time.ParseDuration.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return WindowSpec{}, fmt.Errorf("invalid window_size %q: %w", s, err)
		}
		if days <= 0 {
			return WindowSpec{}, fmt.Errorf("window_size must be positive, got %q", s)
		}
		return WindowSpec{Size: time.Duration(days) * 24 * time.Hour}, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return WindowSpec{}, fmt.Errorf("invalid window_size %q: %w", s, err)
	}
	if d <= 0 {
		return WindowSpec{}, fmt.Errorf("window_size must be positive, got %q", s)
	}
	return WindowSpec{Size: d}, nil
}

// Window is one tumbling, half-open interval [Start, End). Windows never
// overlap and carry no grace period: an event timestamped exactly at End
// belongs to the next window.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor buckets a timestamp into its tumbling window.
// Example: WindowFor(10:35:42, 1h) → [10:00:00, 11:00:00).
func WindowFor(t time.Time, size time.Duration) Window {
	start := t.Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
