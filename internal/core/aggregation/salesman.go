package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teamred/datapipeline/internal/model"
)

// SalesmanAggregate is the accumulating state for one (salesperson, window) pair.
type SalesmanAggregate struct {
	SalesmanID       string
	SalesmanName     string
	Window           Window
	TotalSales       decimal.Decimal
	TransactionCount int64
	CitiesCovered    map[string]struct{}
}

// NewSalesmanAggregate creates empty state for the first event of a window.
func NewSalesmanAggregate(salesmanID string, w Window) *SalesmanAggregate {
	return &SalesmanAggregate{
		SalesmanID:    salesmanID,
		Window:        w,
		TotalSales:    decimal.Zero,
		CitiesCovered: make(map[string]struct{}),
	}
}

// Apply folds one event into the aggregate. The salesperson's display name is
// taken from the first event that carries one.
func (a *SalesmanAggregate) Apply(ev *model.CanonicalSaleEvent) {
	if a.SalesmanName == "" {
		a.SalesmanName = ev.SalesmanName
	}
	a.TotalSales = a.TotalSales.Add(ev.TotalAmountDecimal())
	a.TransactionCount++
	if ev.City != "" {
		a.CitiesCovered[ev.City] = struct{}{}
	}
}

// SalesmanSnapshot is the full accumulated state of a salesperson window.
type SalesmanSnapshot struct {
	SalesmanID       string
	SalesmanName     string
	WindowStart      time.Time
	WindowEnd        time.Time
	TotalSales       decimal.Decimal
	TransactionCount int64
	CitiesCovered    []string
	CitiesCount      int
}

// Snapshot materializes the current state. Cities are sorted so successive
// snapshots of the same state are identical.
func (a *SalesmanAggregate) Snapshot() SalesmanSnapshot {
	cities := make([]string, 0, len(a.CitiesCovered))
	for c := range a.CitiesCovered {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return SalesmanSnapshot{
		SalesmanID:       a.SalesmanID,
		SalesmanName:     a.SalesmanName,
		WindowStart:      a.Window.Start,
		WindowEnd:        a.Window.End,
		TotalSales:       a.TotalSales,
		TransactionCount: a.TransactionCount,
		CitiesCovered:    cities,
		CitiesCount:      len(cities),
	}
}
