package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teamred/datapipeline/internal/model"
)

// CityAggregate is the accumulating state for one (city, window) pair.
// It is exclusively owned by the aggregator worker for its partition; no
// other goroutine mutates it.
type CityAggregate struct {
	City             string
	Window           Window
	TotalSales       decimal.Decimal
	TransactionCount int64
	ProductSales     map[string]decimal.Decimal
}

// NewCityAggregate creates empty state for the first event of a window.
func NewCityAggregate(city string, w Window) *CityAggregate {
	return &CityAggregate{
		City:         city,
		Window:       w,
		TotalSales:   decimal.Zero,
		ProductSales: make(map[string]decimal.Decimal),
	}
}

// Apply folds one event into the aggregate.
func (a *CityAggregate) Apply(ev *model.CanonicalSaleEvent) {
	amount := ev.TotalAmountDecimal()
	a.TotalSales = a.TotalSales.Add(amount)
	a.TransactionCount++
	a.ProductSales[ev.ProductName] = a.ProductSales[ev.ProductName].Add(amount)
}

// TopProduct returns the product with the highest accumulated amount.
// Ties resolve to the lexicographically smallest product name so repeated
// evaluations of the same state always agree.
func (a *CityAggregate) TopProduct() (string, decimal.Decimal) {
	var (
		top    string
		topAmt decimal.Decimal
		found  bool
	)
	for product, amt := range a.ProductSales {
		switch {
		case !found, amt.GreaterThan(topAmt):
			top, topAmt, found = product, amt, true
		case amt.Equal(topAmt) && product < top:
			top = product
		}
	}
	return top, topAmt
}

// CitySnapshot is the full accumulated state of a city window at one point in
// time. Every emission is a complete snapshot, never a delta — the sink
// treats each one as a whole-row upsert.
type CitySnapshot struct {
	City             string
	WindowStart      time.Time
	WindowEnd        time.Time
	TotalSales       decimal.Decimal
	TransactionCount int64
	TopProduct       string
	TopProductSales  decimal.Decimal
}

// Snapshot materializes the current state.
func (a *CityAggregate) Snapshot() CitySnapshot {
	top, topAmt := a.TopProduct()
	return CitySnapshot{
		City:             a.City,
		WindowStart:      a.Window.Start,
		WindowEnd:        a.Window.End,
		TotalSales:       a.TotalSales,
		TransactionCount: a.TransactionCount,
		TopProduct:       top,
		TopProductSales:  topAmt,
	}
}

// Products returns the product names in deterministic order, mostly for tests
// and debugging output.
func (a *CityAggregate) Products() []string {
	names := make([]string, 0, len(a.ProductSales))
	for p := range a.ProductSales {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}
