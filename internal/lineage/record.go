package lineage

import (
	"fmt"
	"time"
)

// Step is one observation of an event at a processing stage.
type Step struct {
	Stage      string    `json:"stage"`
	Topic      string    `json:"topic"`
	Partition  int       `json:"partition"`
	Offset     int64     `json:"offset"`
	ObservedAt time.Time `json:"observed_at"`
}

// Key identifies a step uniquely within a record's history. Keying by
// stage+topic+partition+offset keeps re-deliveries of the same offset
// idempotent while distinct observations are all retained — a full audit
// history, not last-write-per-stage.
func (s Step) Key() string {
	return fmt.Sprintf("%s@%s-%d@%d", s.Stage, s.Topic, s.Partition, s.Offset)
}

// Record is the audit trail for one lineage id. The identity fields (sale id,
// source system, source timestamp) are set once and never change; Steps is
// merge-only. Multiple stages may race to merge into the same record, so the
// merge operation must be commutative and idempotent — never a plain overwrite.
type Record struct {
	LineageID          string          `json:"lineage_id"`
	SaleID             string          `json:"sale_id"`
	SourceSystem       string          `json:"source_system"`
	SourceTimestamp    time.Time       `json:"source_timestamp"`
	IngestionTimestamp time.Time       `json:"ingestion_timestamp"`
	Steps              map[string]Step `json:"transformation_steps"`
}

// NewRecord builds a record with a single observed step.
func NewRecord(lineageID, saleID, sourceSystem string, sourceTS, ingestionTS time.Time, step Step) *Record {
	return &Record{
		LineageID:          lineageID,
		SaleID:             saleID,
		SourceSystem:       sourceSystem,
		SourceTimestamp:    sourceTS,
		IngestionTimestamp: ingestionTS,
		Steps:              map[string]Step{step.Key(): step},
	}
}

// Merge folds other into r. Identity fields are kept from whichever record set
// them first; steps are unioned by key. Merge(a,b) and Merge(b,a) converge to
// the same step set, and merging a record into itself is a no-op.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	if r.SaleID == "" {
		r.SaleID = other.SaleID
	}
	if r.SourceSystem == "" {
		r.SourceSystem = other.SourceSystem
	}
	if r.SourceTimestamp.IsZero() {
		r.SourceTimestamp = other.SourceTimestamp
	}
	if r.IngestionTimestamp.IsZero() {
		r.IngestionTimestamp = other.IngestionTimestamp
	}
	if r.Steps == nil {
		r.Steps = make(map[string]Step, len(other.Steps))
	}
	for k, s := range other.Steps {
		if _, exists := r.Steps[k]; !exists {
			r.Steps[k] = s
		}
	}
}
