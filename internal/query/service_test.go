package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreagg "github.com/teamred/datapipeline/internal/core/aggregation"
	"github.com/teamred/datapipeline/internal/lineage"
)

type fakeSalesReader struct {
	citySales     []coreagg.CitySnapshot
	topCities     []coreagg.CitySnapshot
	salesmanStats []coreagg.SalesmanSnapshot
	err           error

	gotFrom, gotTo time.Time
	gotLimit       int
}

func (f *fakeSalesReader) CitySales(_ context.Context, _ string, from, to time.Time) ([]coreagg.CitySnapshot, error) {
	f.gotFrom, f.gotTo = from, to
	return f.citySales, f.err
}

func (f *fakeSalesReader) TopCities(_ context.Context, from, to time.Time, limit int) ([]coreagg.CitySnapshot, error) {
	f.gotFrom, f.gotTo, f.gotLimit = from, to, limit
	return f.topCities, f.err
}

func (f *fakeSalesReader) SalesmanStats(_ context.Context, _ string, from, to time.Time) ([]coreagg.SalesmanSnapshot, error) {
	f.gotFrom, f.gotTo = from, to
	return f.salesmanStats, f.err
}

type fakeLineageReader struct {
	records []*lineage.Record
	err     error
	calls   int
}

func (f *fakeLineageReader) GetBySaleID(context.Context, string) ([]*lineage.Record, error) {
	f.calls++
	return f.records, f.err
}

func newTestRouter(sales *fakeSalesReader, lin *fakeLineageReader) (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)
	svc := NewService(sales, lin)
	svc.nowFn = func() time.Time {
		return time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
	}
	r := gin.New()
	svc.RegisterRoutes(r)
	return r, svc
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHandleCitySales(t *testing.T) {
	start := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	sales := &fakeSalesReader{citySales: []coreagg.CitySnapshot{{
		City:             "Lisbon",
		WindowStart:      start,
		WindowEnd:        start.Add(time.Hour),
		TotalSales:       decimal.RequireFromString("175.5"),
		TransactionCount: 3,
		TopProduct:       "Widget",
		TopProductSales:  decimal.RequireFromString("125.5"),
	}}}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/sales/city/Lisbon")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		City    string `json:"city"`
		Windows []struct {
			TotalSales       string `json:"total_sales"`
			TransactionCount int64  `json:"transaction_count"`
			TopProduct       string `json:"top_product"`
		} `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Lisbon", body.City)
	require.Len(t, body.Windows, 1)
	require.Equal(t, "175.5", body.Windows[0].TotalSales)
	require.Equal(t, int64(3), body.Windows[0].TransactionCount)
	require.Equal(t, "Widget", body.Windows[0].TopProduct)
}

func TestHandleCitySales_DefaultRangeIsLast24h(t *testing.T) {
	sales := &fakeSalesReader{}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/sales/city/Lisbon")
	require.Equal(t, http.StatusOK, w.Code)

	now := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(-24*time.Hour), sales.gotFrom)
	require.Equal(t, now, sales.gotTo)
}

func TestHandleCitySales_ExplicitRange(t *testing.T) {
	sales := &fakeSalesReader{}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/sales/city/Lisbon?from=2026-03-15T00:00:00Z&to=2026-03-16T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), sales.gotFrom)
	require.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), sales.gotTo)
}

func TestParseRange_Invalid(t *testing.T) {
	r, _ := newTestRouter(&fakeSalesReader{}, &fakeLineageReader{})

	w := get(r, "/api/sales/city/Lisbon?from=yesterday")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = get(r, "/api/sales/city/Lisbon?from=2026-03-16T00:00:00Z&to=2026-03-15T00:00:00Z")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCitySales_StoreError(t *testing.T) {
	sales := &fakeSalesReader{err: errors.New("connection refused")}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/sales/city/Lisbon")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleTopCities_LimitValidation(t *testing.T) {
	sales := &fakeSalesReader{}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/sales/top-cities?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 5, sales.gotLimit)

	w = get(r, "/api/sales/top-cities")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, defaultTopLimit, sales.gotLimit)

	for _, bad := range []string{"0", "-1", "101", "ten"} {
		w = get(r, "/api/sales/top-cities?limit="+bad)
		require.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}
}

func TestHandleSalesmanStats(t *testing.T) {
	start := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	sales := &fakeSalesReader{salesmanStats: []coreagg.SalesmanSnapshot{{
		SalesmanID:       "SEL001",
		SalesmanName:     "Ana Silva",
		WindowStart:      start,
		WindowEnd:        start.Add(time.Hour),
		TotalSales:       decimal.RequireFromString("175"),
		TransactionCount: 3,
		CitiesCount:      2,
	}}}
	r, _ := newTestRouter(sales, &fakeLineageReader{})

	w := get(r, "/api/salesman/SEL001")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SalesmanID string `json:"salesman_id"`
		Windows    []struct {
			SalesmanName  string `json:"salesman_name"`
			CitiesCovered int    `json:"cities_covered"`
		} `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "SEL001", body.SalesmanID)
	require.Len(t, body.Windows, 1)
	require.Equal(t, "Ana Silva", body.Windows[0].SalesmanName)
	require.Equal(t, 2, body.Windows[0].CitiesCovered)
}

func TestHandleLineage(t *testing.T) {
	sourceTS := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	rec := lineage.NewRecord("lin-1", "SALE-001", "FILE", sourceTS, sourceTS.Add(time.Second),
		lineage.Step{Stage: "ingestion", Topic: "sales.raw.file", Offset: 7, ObservedAt: sourceTS})
	lin := &fakeLineageReader{records: []*lineage.Record{rec}}
	r, _ := newTestRouter(&fakeSalesReader{}, lin)

	w := get(r, "/api/lineage/SALE-001")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SaleID  string `json:"sale_id"`
		Records []struct {
			LineageID string `json:"lineage_id"`
			Steps     map[string]struct {
				Stage string `json:"stage"`
			} `json:"transformation_steps"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "SALE-001", body.SaleID)
	require.Len(t, body.Records, 1)
	require.Equal(t, "lin-1", body.Records[0].LineageID)
	require.Len(t, body.Records[0].Steps, 1)
}

func TestHandleLineage_NotFound(t *testing.T) {
	r, _ := newTestRouter(&fakeSalesReader{}, &fakeLineageReader{})

	w := get(r, "/api/lineage/SALE-unknown")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		ErrorType string `json:"error_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "not_found", body.ErrorType)
}

func TestHandleLineage_StoreError(t *testing.T) {
	lin := &fakeLineageReader{err: errors.New("connection refused")}
	r, _ := newTestRouter(&fakeSalesReader{}, lin)

	w := get(r, "/api/lineage/SALE-001")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
