package aggregation

import (
	"context"
	"time"
)

// Key identifies one live aggregate in the arena.
type Key struct {
	DimensionKey string
	WindowStart  time.Time
}

// Store is an explicit arena of aggregate states indexed by (dimension key,
// window start). It replaces the implicit state store a managed streaming
// runtime would provide. A store is owned by exactly one worker goroutine;
// it is not safe for concurrent use.
type Store[S any] struct {
	states map[Key]S
}

// NewStore creates an empty arena.
func NewStore[S any]() *Store[S] {
	return &Store[S]{states: make(map[Key]S)}
}

// Get returns the live state for key, if any.
func (s *Store[S]) Get(k Key) (S, bool) {
	v, ok := s.states[k]
	return v, ok
}

// Put inserts or replaces the state for key.
func (s *Store[S]) Put(k Key, v S) {
	s.states[k] = v
}

// Len returns the number of live aggregates.
func (s *Store[S]) Len() int {
	return len(s.states)
}

// RetireBefore removes every aggregate whose window has closed — window end
// (start + size) at or before the watermark — and returns the retired keys.
// Once retired, a window accepts no further events.
func (s *Store[S]) RetireBefore(watermark time.Time, size time.Duration) []Key {
	var retired []Key
	for k := range s.states {
		if !k.WindowStart.Add(size).After(watermark) {
			retired = append(retired, k)
			delete(s.states, k)
		}
	}
	return retired
}

// Export copies the live state map for checkpointing.
func (s *Store[S]) Export() map[Key]S {
	out := make(map[Key]S, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Restore replaces the arena content, used on recovery before replay.
func (s *Store[S]) Restore(states map[Key]S) {
	s.states = make(map[Key]S, len(states))
	for k, v := range states {
		s.states[k] = v
	}
}

// Checkpointer is the pluggable persistence backend for crash recovery.
// The in-memory pipeline runs with NopCheckpointer; a durable deployment can
// plug a store that survives restarts and Restore from it before replay.
type Checkpointer[S any] interface {
	Save(ctx context.Context, states map[Key]S) error
	Load(ctx context.Context) (map[Key]S, error)
}

// NopCheckpointer persists nothing. Recovery then relies on replaying the
// retained stream from the last committed offset.
type NopCheckpointer[S any] struct{}

func (NopCheckpointer[S]) Save(context.Context, map[Key]S) error { return nil }
func (NopCheckpointer[S]) Load(context.Context) (map[Key]S, error) {
	return map[Key]S{}, nil
}
