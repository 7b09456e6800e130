package partition

import "hash/fnv"

// DefaultCount is the partition count topics get unless configured otherwise.
// It is a capacity decision, not a scaling decision — changing it after data
// has flowed re-maps keys to different partitions and breaks per-key ordering.
const DefaultCount = 8

// For returns the partition for key in a topic of count partitions.
// Stable and deterministic: the same key always maps to the same partition,
// which is what gives the pipeline its per-key ordering guarantee.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(key string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(count))
}
