package connector

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultDedupSize = 65536

// Dedup is a bounded, per-source duplicate suppressor. It replaces an
// unbounded "already processed" id set: memory stays fixed under any volume,
// at the cost of re-admitting a business key after dedupSize newer keys have
// passed — which the idempotent sink absorbs.
type Dedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedup creates a suppressor remembering the last size business keys.
func NewDedup(size int) (*Dedup, error) {
	if size <= 0 {
		size = defaultDedupSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Dedup{cache: cache}, nil
}

// Seen reports whether id was already observed, and records it.
func (d *Dedup) Seen(id string) bool {
	_, seen := d.cache.Get(id)
	if !seen {
		d.cache.Add(id, struct{}{})
	}
	return seen
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	return d.cache.Len()
}
