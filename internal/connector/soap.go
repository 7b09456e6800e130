package connector

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teamred/datapipeline/internal/model"
)

const soapRequestEnvelope = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <GetRecentSalesRequest xmlns="http://teamred.com/datapipeline/sales"/>
  </soapenv:Body>
</soapenv:Envelope>`

// SOAPSource polls a remote sales service on a fixed interval and publishes
// the sales it returns. The service keeps returning recent sales across
// polls; the producer's dedup window suppresses the overlap.
type SOAPSource struct {
	producer *Producer
	endpoint string
	interval time.Duration
	client   *http.Client
}

// NewSOAPSource builds a poller against endpoint.
func NewSOAPSource(producer *Producer, endpoint string, interval time.Duration) *SOAPSource {
	return &SOAPSource{
		producer: producer,
		endpoint: endpoint,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Run polls immediately, then on every tick, until ctx is cancelled.
// A failed poll is logged and retried on the next tick — the remote being
// down must not take the connector down with it.
func (s *SOAPSource) Run(ctx context.Context) error {
	slog.Info("[SOAPSource] Started", "endpoint", s.endpoint, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[SOAPSource] Stopped")
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *SOAPSource) poll(ctx context.Context) {
	sales, err := s.fetch(ctx)
	if err != nil {
		slog.Error("[SOAPSource] Poll failed", "error", err)
		return
	}
	published := 0
	for _, sale := range sales {
		if s.producer.Publish(sale.toEvent()) {
			published++
		}
	}
	if published > 0 {
		slog.Info("[SOAPSource] Poll complete", "returned", len(sales), "published", published)
	}
}

func (s *SOAPSource) fetch(ctx context.Context) ([]soapSale, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint,
		strings.NewReader(soapRequestEnvelope))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "GetRecentSales")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var envelope soapEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope.Body.Response.Sales, nil
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			Sales []soapSale `xml:"sale"`
		} `xml:"GetRecentSalesResponse"`
	} `xml:"Body"`
}

type soapSale struct {
	SaleID       string  `xml:"saleId"`
	Timestamp    int64   `xml:"timestamp"`
	SalesmanID   string  `xml:"salesmanId"`
	SalesmanName string  `xml:"salesmanName"`
	CustomerID   string  `xml:"customerId"`
	ProductID    string  `xml:"productId"`
	ProductName  string  `xml:"productName"`
	Quantity     int     `xml:"quantity"`
	UnitPrice    float64 `xml:"unitPrice"`
	TotalAmount  float64 `xml:"totalAmount"`
	City         string  `xml:"city"`
	Country      string  `xml:"country"`
}

func (s soapSale) toEvent() *model.CanonicalSaleEvent {
	return &model.CanonicalSaleEvent{
		SaleID:       s.SaleID,
		Timestamp:    s.Timestamp,
		SalesmanID:   s.SalesmanID,
		SalesmanName: s.SalesmanName,
		CustomerID:   s.CustomerID,
		ProductID:    s.ProductID,
		ProductName:  s.ProductName,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice,
		TotalAmount:  s.TotalAmount,
		City:         s.City,
		Country:      s.Country,
	}
}
