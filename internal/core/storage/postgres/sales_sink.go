package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teamred/datapipeline/internal/core/aggregation"
)

const (
	queryUpsertCitySales = `
		INSERT INTO top_sales_by_city (
			city, window_start, window_end, total_sales, transaction_count,
			top_product, top_product_sales, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city, window_start) DO UPDATE SET
			window_end        = EXCLUDED.window_end,
			total_sales       = EXCLUDED.total_sales,
			transaction_count = EXCLUDED.transaction_count,
			top_product       = EXCLUDED.top_product,
			top_product_sales = EXCLUDED.top_product_sales,
			updated_at        = EXCLUDED.updated_at
	`

	queryUpsertSalesmanStats = `
		INSERT INTO top_sales_by_salesman (
			salesman_id, window_start, salesman_name, window_end, total_sales,
			transaction_count, cities_covered, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (salesman_id, window_start) DO UPDATE SET
			salesman_name     = EXCLUDED.salesman_name,
			window_end        = EXCLUDED.window_end,
			total_sales       = EXCLUDED.total_sales,
			transaction_count = EXCLUDED.transaction_count,
			cities_covered    = EXCLUDED.cities_covered,
			updated_at        = EXCLUDED.updated_at
	`

	queryRangeCitySales = `
		SELECT city, window_start, window_end, total_sales, transaction_count,
		       top_product, top_product_sales
		FROM top_sales_by_city
		WHERE city = $1 AND window_start >= $2 AND window_start < $3
		ORDER BY window_start ASC
	`

	queryTopCities = `
		SELECT city, window_start, window_end, total_sales, transaction_count,
		       top_product, top_product_sales
		FROM top_sales_by_city
		WHERE window_start >= $1 AND window_start < $2
		ORDER BY total_sales DESC
		LIMIT $3
	`

	queryRangeSalesmanStats = `
		SELECT salesman_id, salesman_name, window_start, window_end, total_sales,
		       transaction_count, cities_covered
		FROM top_sales_by_salesman
		WHERE salesman_id = $1 AND window_start >= $2 AND window_start < $3
		ORDER BY window_start ASC
	`
)

// SalesSink writes aggregate snapshots with idempotent upserts keyed by
// (dimension key, window_start). Writing the same key twice overwrites all
// non-key columns — last write wins per call, which is safe because every
// emission carries the full accumulated window state.
type SalesSink struct {
	db     *sql.DB
	policy RetryPolicy
}

// NewSalesSink creates a sink sharing the adapter's pool.
func NewSalesSink(db *sql.DB, policy RetryPolicy) *SalesSink {
	return &SalesSink{db: db, policy: policy.normalized()}
}

// UpsertCitySales inserts or overwrites one city window row.
func (s *SalesSink) UpsertCitySales(ctx context.Context, snap aggregation.CitySnapshot) error {
	err := withRetry(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, queryUpsertCitySales,
			snap.City,
			snap.WindowStart,
			snap.WindowEnd,
			snap.TotalSales.String(),
			snap.TransactionCount,
			snap.TopProduct,
			snap.TopProductSales.String(),
			time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert city sales %s@%s: %w", snap.City, snap.WindowStart, err)
	}
	return nil
}

// UpsertSalesmanStats inserts or overwrites one salesperson window row.
func (s *SalesSink) UpsertSalesmanStats(ctx context.Context, snap aggregation.SalesmanSnapshot) error {
	err := withRetry(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, queryUpsertSalesmanStats,
			snap.SalesmanID,
			snap.WindowStart,
			snap.SalesmanName,
			snap.WindowEnd,
			snap.TotalSales.String(),
			snap.TransactionCount,
			snap.CitiesCount,
			time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert salesman stats %s@%s: %w", snap.SalesmanID, snap.WindowStart, err)
	}
	return nil
}

// CitySales returns the stored windows for one city inside [from, to).
func (s *SalesSink) CitySales(ctx context.Context, city string, from, to time.Time) ([]aggregation.CitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, queryRangeCitySales, city, from, to)
	if err != nil {
		return nil, fmt.Errorf("query city sales: %w", err)
	}
	defer rows.Close()
	return scanCityRows(rows)
}

// TopCities returns the highest-grossing city windows inside [from, to).
func (s *SalesSink) TopCities(ctx context.Context, from, to time.Time, limit int) ([]aggregation.CitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, queryTopCities, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query top cities: %w", err)
	}
	defer rows.Close()
	return scanCityRows(rows)
}

// SalesmanStats returns the stored windows for one salesperson inside [from, to).
func (s *SalesSink) SalesmanStats(ctx context.Context, salesmanID string, from, to time.Time) ([]aggregation.SalesmanSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, queryRangeSalesmanStats, salesmanID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query salesman stats: %w", err)
	}
	defer rows.Close()

	var out []aggregation.SalesmanSnapshot
	for rows.Next() {
		var (
			snap     aggregation.SalesmanSnapshot
			totalStr string
		)
		if err := rows.Scan(
			&snap.SalesmanID,
			&snap.SalesmanName,
			&snap.WindowStart,
			&snap.WindowEnd,
			&totalStr,
			&snap.TransactionCount,
			&snap.CitiesCount,
		); err != nil {
			return nil, fmt.Errorf("scan salesman row: %w", err)
		}
		total, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("parse total_sales %q: %w", totalStr, err)
		}
		snap.TotalSales = total
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate salesman rows: %w", err)
	}
	return out, nil
}

func scanCityRows(rows *sql.Rows) ([]aggregation.CitySnapshot, error) {
	var out []aggregation.CitySnapshot
	for rows.Next() {
		var (
			snap       aggregation.CitySnapshot
			totalStr   string
			topSales   string
			topProduct sql.NullString
		)
		if err := rows.Scan(
			&snap.City,
			&snap.WindowStart,
			&snap.WindowEnd,
			&totalStr,
			&snap.TransactionCount,
			&topProduct,
			&topSales,
		); err != nil {
			return nil, fmt.Errorf("scan city row: %w", err)
		}
		total, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("parse total_sales %q: %w", totalStr, err)
		}
		top, err := decimal.NewFromString(topSales)
		if err != nil {
			return nil, fmt.Errorf("parse top_product_sales %q: %w", topSales, err)
		}
		snap.TotalSales = total
		snap.TopProduct = topProduct.String
		snap.TopProductSales = top
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate city rows: %w", err)
	}
	return out, nil
}
