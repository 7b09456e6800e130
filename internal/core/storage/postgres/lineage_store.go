package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/teamred/datapipeline/internal/lineage"
)

const (
	queryMergeLineage = `
		INSERT INTO data_lineage (
			lineage_id, sale_id, source_system, source_timestamp,
			ingestion_timestamp, transformation_steps
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (lineage_id) DO UPDATE SET
			transformation_steps = data_lineage.transformation_steps || EXCLUDED.transformation_steps
	`

	queryLineageByID = `
		SELECT lineage_id, sale_id, source_system, source_timestamp,
		       ingestion_timestamp, transformation_steps
		FROM data_lineage
		WHERE lineage_id = $1
	`

	queryLineageBySaleID = `
		SELECT lineage_id, sale_id, source_system, source_timestamp,
		       ingestion_timestamp, transformation_steps
		FROM data_lineage
		WHERE sale_id = $1
		ORDER BY ingestion_timestamp ASC
	`
)

// LineageStore persists audit records with merge-on-conflict semantics.
// Multiple stages race to merge into the same lineage id; the jsonb step-map
// union makes the write commutative and idempotent, never a plain overwrite.
// Immutable columns (sale id, source system, timestamps) are written on first
// insert and left untouched by subsequent merges.
type LineageStore struct {
	db     *sql.DB
	policy RetryPolicy
}

// NewLineageStore creates a store sharing the adapter's pool.
func NewLineageStore(db *sql.DB, policy RetryPolicy) *LineageStore {
	return &LineageStore{db: db, policy: policy.normalized()}
}

// MergeRecord upserts rec, unioning its steps with any existing history.
func (s *LineageStore) MergeRecord(ctx context.Context, rec *lineage.Record) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal transformation steps: %w", err)
	}
	err = withRetry(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, queryMergeLineage,
			rec.LineageID,
			rec.SaleID,
			rec.SourceSystem,
			rec.SourceTimestamp,
			rec.IngestionTimestamp,
			steps,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("merge lineage %s: %w", rec.LineageID, err)
	}
	return nil
}

// GetByLineageID loads one record, or nil when absent.
func (s *LineageStore) GetByLineageID(ctx context.Context, lineageID string) (*lineage.Record, error) {
	rec, err := scanLineageRow(s.db.QueryRowContext(ctx, queryLineageByID, lineageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lineage %s: %w", lineageID, err)
	}
	return rec, nil
}

// GetBySaleID loads every lineage record for a business key. A sale observed
// by more than one source yields one record per lineage id.
func (s *LineageStore) GetBySaleID(ctx context.Context, saleID string) ([]*lineage.Record, error) {
	rows, err := s.db.QueryContext(ctx, queryLineageBySaleID, saleID)
	if err != nil {
		return nil, fmt.Errorf("query lineage for sale %s: %w", saleID, err)
	}
	defer rows.Close()

	var out []*lineage.Record
	for rows.Next() {
		rec, err := scanLineageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lineage row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineage rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLineageRow(row rowScanner) (*lineage.Record, error) {
	var (
		rec      lineage.Record
		stepsRaw []byte
	)
	if err := row.Scan(
		&rec.LineageID,
		&rec.SaleID,
		&rec.SourceSystem,
		&rec.SourceTimestamp,
		&rec.IngestionTimestamp,
		&stepsRaw,
	); err != nil {
		return nil, err
	}
	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &rec.Steps); err != nil {
			return nil, fmt.Errorf("decode transformation steps: %w", err)
		}
	}
	return &rec, nil
}
