package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SourceSystem identifies which upstream connector produced an event.
type SourceSystem string

const (
	SourceDB   SourceSystem = "DB"
	SourceFile SourceSystem = "FILE"
	SourceSOAP SourceSystem = "SOAP"
)

// ValidSourceSystem reports whether s is a known source system.
func ValidSourceSystem(s SourceSystem) bool {
	switch s {
	case SourceDB, SourceFile, SourceSOAP:
		return true
	}
	return false
}

// CanonicalSaleEvent is the normalized, source-agnostic representation of one
// sales transaction. It separates the business payload (who sold what, where)
// from the pipeline envelope (source system, ingestion time, lineage id).
//
// Timestamps are epoch milliseconds on the wire; use EventTime and
// IngestionTime for time.Time views. An event is immutable once produced —
// stages forward it, they never mutate it.
type CanonicalSaleEvent struct {
	// SaleID is the globally unique business key.
	SaleID string `json:"sale_id"`

	// Timestamp is when the sale happened (event time), epoch millis.
	Timestamp int64 `json:"timestamp"`

	SalesmanID   string `json:"salesman_id"`
	SalesmanName string `json:"salesman_name"`
	CustomerID   string `json:"customer_id"`

	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`

	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalAmount float64 `json:"total_amount"`

	City    string `json:"city"`
	Country string `json:"country"`

	// SourceSystem is stamped by the producing connector and never changes.
	SourceSystem SourceSystem `json:"source_system"`

	// IngestionTimestamp is set exactly once, at first normalization, epoch millis.
	IngestionTimestamp int64 `json:"ingestion_timestamp"`

	// LineageID is the correlation id minted at the earliest point the event
	// exists and carried unchanged through every downstream stage.
	LineageID string `json:"lineage_id"`
}

// EventTime returns the sale's event time.
func (e *CanonicalSaleEvent) EventTime() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// IngestionTime returns the time the event was first normalized.
func (e *CanonicalSaleEvent) IngestionTime() time.Time {
	return time.UnixMilli(e.IngestionTimestamp).UTC()
}

// TotalAmountDecimal returns the total amount as an exact decimal.
// Aggregate math never runs on raw floats.
func (e *CanonicalSaleEvent) TotalAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(e.TotalAmount)
}

// UnitPriceDecimal returns the unit price as an exact decimal.
func (e *CanonicalSaleEvent) UnitPriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(e.UnitPrice)
}

// Validate ensures the event carries everything aggregation depends on.
// Connectors call this before publishing; aggregators call it again on intake
// so a bad record from one source can never poison another key's state.
func (e *CanonicalSaleEvent) Validate() error {
	if e.SaleID == "" {
		return fmt.Errorf("sale_id is required")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	if e.SalesmanID == "" {
		return fmt.Errorf("salesman_id is required")
	}
	if e.ProductName == "" {
		return fmt.Errorf("product_name is required")
	}
	if e.City == "" {
		return fmt.Errorf("city is required")
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", e.Quantity)
	}
	if e.UnitPrice < 0 {
		return fmt.Errorf("unit_price must be non-negative, got %v", e.UnitPrice)
	}
	if e.TotalAmount < 0 {
		return fmt.Errorf("total_amount must be non-negative, got %v", e.TotalAmount)
	}
	if !ValidSourceSystem(e.SourceSystem) {
		return fmt.Errorf("unknown source_system %q", e.SourceSystem)
	}
	return nil
}
