// Package query is the read-only reporting surface over the sink tables and
// the lineage audit trail.
package query

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	coreagg "github.com/teamred/datapipeline/internal/core/aggregation"
	apierrors "github.com/teamred/datapipeline/internal/core/errors"
	"github.com/teamred/datapipeline/internal/lineage"
)

const (
	defaultRangeHours = 24
	defaultTopLimit   = 10
	maxTopLimit       = 100
)

// SalesReader serves rollup rows from the sink tables.
type SalesReader interface {
	CitySales(ctx context.Context, city string, from, to time.Time) ([]coreagg.CitySnapshot, error)
	TopCities(ctx context.Context, from, to time.Time, limit int) ([]coreagg.CitySnapshot, error)
	SalesmanStats(ctx context.Context, salesmanID string, from, to time.Time) ([]coreagg.SalesmanSnapshot, error)
}

// LineageReader serves audit records.
type LineageReader interface {
	GetBySaleID(ctx context.Context, saleID string) ([]*lineage.Record, error)
}

// Service exposes the reporting endpoints.
type Service struct {
	sales   SalesReader
	lineage LineageReader

	// lookupGroup dedupes concurrent lineage lookups for the same sale —
	// dashboards tend to hammer one hot key.
	lookupGroup singleflight.Group

	nowFn func() time.Time
}

// NewService creates the reporting service.
func NewService(sales SalesReader, lineageReader LineageReader) *Service {
	return &Service{
		sales:   sales,
		lineage: lineageReader,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the reporting endpoints.
func (s *Service) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/sales/city/:city", s.handleCitySales)
	api.GET("/sales/top-cities", s.handleTopCities)
	api.GET("/salesman/:id", s.handleSalesmanStats)
	api.GET("/lineage/:saleId", s.handleLineage)
}

func (s *Service) handleCitySales(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}
	rows, err := s.sales.CitySales(c.Request.Context(), c.Param("city"), from, to)
	if err != nil {
		slog.Error("City sales query failed", "city", c.Param("city"), "error", err)
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpInternalError,
			Message:   "query failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"city":    c.Param("city"),
		"from":    from,
		"to":      to,
		"windows": citySalesResponse(rows),
	})
}

func (s *Service) handleTopCities(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}
	limit := defaultTopLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTopLimit {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
				ErrorType: apierrors.HttpInvalidLimitError,
				Message:   "limit must be 1-" + strconv.Itoa(maxTopLimit),
			})
			return
		}
		limit = n
	}
	rows, err := s.sales.TopCities(c.Request.Context(), from, to, limit)
	if err != nil {
		slog.Error("Top cities query failed", "error", err)
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpInternalError,
			Message:   "query failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "cities": citySalesResponse(rows)})
}

func (s *Service) handleSalesmanStats(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}
	rows, err := s.sales.SalesmanStats(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		slog.Error("Salesman stats query failed", "salesman_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpInternalError,
			Message:   "query failed",
		})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"salesman_id":       row.SalesmanID,
			"salesman_name":     row.SalesmanName,
			"window_start":      row.WindowStart,
			"window_end":        row.WindowEnd,
			"total_sales":       row.TotalSales,
			"transaction_count": row.TransactionCount,
			"cities_covered":    row.CitiesCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"salesman_id": c.Param("id"), "from": from, "to": to, "windows": out})
}

func (s *Service) handleLineage(c *gin.Context) {
	saleID := c.Param("saleId")
	result, err, _ := s.lookupGroup.Do(saleID, func() (any, error) {
		return s.lineage.GetBySaleID(c.Request.Context(), saleID)
	})
	if err != nil {
		slog.Error("Lineage query failed", "sale_id", saleID, "error", err)
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpInternalError,
			Message:   "query failed",
		})
		return
	}
	records := result.([]*lineage.Record)
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpNotFoundError,
			Message:   "no lineage for sale",
			Details:   gin.H{"sale_id": saleID},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale_id": saleID, "records": records})
}

func (s *Service) parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := s.nowFn()
	from := now.Add(-defaultRangeHours * time.Hour)
	to := now

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
				ErrorType: apierrors.HttpInvalidRangeError,
				Message:   "from must be RFC3339",
			})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
				ErrorType: apierrors.HttpInvalidRangeError,
				Message:   "to must be RFC3339",
			})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpInvalidRangeError,
			Message:   "from must be before to",
		})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func citySalesResponse(rows []coreagg.CitySnapshot) []gin.H {
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"city":              row.City,
			"window_start":      row.WindowStart,
			"window_end":        row.WindowEnd,
			"total_sales":       row.TotalSales,
			"transaction_count": row.TransactionCount,
			"top_product":       row.TopProduct,
			"top_product_sales": row.TopProductSales,
		})
	}
	return out
}
