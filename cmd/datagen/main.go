// Command datagen produces demo traffic for all three pipeline sources:
// it serves a mock sales web service, drops CSV and JSON batches into the
// watch directory, and inserts rows into the monitored sales table.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/teamred/datapipeline/internal/model"
)

var cities = []struct {
	City    string
	Country string
}{
	{"Lisbon", "Portugal"},
	{"Porto", "Portugal"},
	{"Madrid", "Spain"},
	{"Barcelona", "Spain"},
	{"Paris", "France"},
}

var products = []struct {
	ID    string
	Name  string
	Price float64
}{
	{"PRD-001", "Widget", 25.00},
	{"PRD-002", "Gadget", 50.00},
	{"PRD-003", "Gizmo", 100.00},
	{"PRD-004", "Doohickey", 12.50},
}

var salesmen = []struct {
	ID   string
	Name string
}{
	{"SEL001", "Ana Silva"},
	{"SEL002", "Bruno Costa"},
	{"SEL003", "Carla Mendes"},
}

func main() {
	watchDir := flag.String("watch-dir", "./data/input", "Directory the file connector watches")
	dsn := flag.String("dsn", "", "Postgres DSN for the monitored sales table (empty disables DB inserts)")
	soapAddr := flag.String("soap-addr", ":8081", "Listen address for the mock sales web service")
	interval := flag.Duration("interval", 10*time.Second, "How often to emit a batch per source")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	gen := &generator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveSalesService(ctx, *soapAddr, gen)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dropFiles(ctx, *watchDir, *interval, gen)
	}()

	if *dsn != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertRows(ctx, *dsn, *interval, gen)
		}()
	}

	wg.Wait()
	slog.Info("[Datagen] Done")
}

type generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (g *generator) sale() model.CanonicalSaleEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	loc := cities[g.rng.Intn(len(cities))]
	prod := products[g.rng.Intn(len(products))]
	seller := salesmen[g.rng.Intn(len(salesmen))]
	qty := 1 + g.rng.Intn(5)

	return model.CanonicalSaleEvent{
		SaleID:       uuid.NewString(),
		Timestamp:    time.Now().UnixMilli(),
		SalesmanID:   seller.ID,
		SalesmanName: seller.Name,
		CustomerID:   fmt.Sprintf("CUST-%03d", g.rng.Intn(100)),
		ProductID:    prod.ID,
		ProductName:  prod.Name,
		Quantity:     qty,
		UnitPrice:    prod.Price,
		TotalAmount:  float64(qty) * prod.Price,
		City:         loc.City,
		Country:      loc.Country,
	}
}

func (g *generator) batch(n int) []model.CanonicalSaleEvent {
	out := make([]model.CanonicalSaleEvent, n)
	for i := range out {
		out[i] = g.sale()
	}
	return out
}

// serveSalesService answers GetRecentSales with a fresh random batch.
func serveSalesService(ctx context.Context, addr string, gen *generator) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/sales", func(w http.ResponseWriter, r *http.Request) {
		sales := gen.batch(3)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		fmt.Fprint(w, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><GetRecentSalesResponse>`)
		for _, s := range sales {
			fmt.Fprintf(w, `<sale><saleId>%s</saleId><timestamp>%d</timestamp><salesmanId>%s</salesmanId><salesmanName>%s</salesmanName><customerId>%s</customerId><productId>%s</productId><productName>%s</productName><quantity>%d</quantity><unitPrice>%.2f</unitPrice><totalAmount>%.2f</totalAmount><city>%s</city><country>%s</country></sale>`,
				s.SaleID, s.Timestamp, s.SalesmanID, s.SalesmanName, s.CustomerID,
				s.ProductID, s.ProductName, s.Quantity, s.UnitPrice, s.TotalAmount,
				s.City, s.Country)
		}
		fmt.Fprint(w, `</GetRecentSalesResponse></soapenv:Body></soapenv:Envelope>`)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("[Datagen] Mock sales service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("[Datagen] Mock sales service failed", "error", err)
	}
}

// dropFiles alternates CSV and JSON batches into the watch directory.
func dropFiles(ctx context.Context, dir string, interval time.Duration, gen *generator) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("[Datagen] Failed to create watch directory", "dir", dir, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	useCSV := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if useCSV {
				err = writeCSVBatch(dir, gen.batch(5))
			} else {
				err = writeJSONBatch(dir, gen.batch(5))
			}
			if err != nil {
				slog.Error("[Datagen] Failed to write batch file", "error", err)
			}
			useCSV = !useCSV
		}
	}
}

func writeCSVBatch(dir string, sales []model.CanonicalSaleEvent) error {
	name := filepath.Join(dir, fmt.Sprintf("sales_%d.csv", time.Now().UnixNano()))
	f, err := os.CreateTemp(dir, "datagen-*")
	if err != nil {
		return err
	}
	fmt.Fprintln(f, "sale_id,timestamp,salesman_id,salesman_name,customer_id,product_id,product_name,quantity,unit_price,total_amount,city,country")
	for _, s := range sales {
		fmt.Fprintf(f, "%s,%d,%s,%s,%s,%s,%s,%d,%.2f,%.2f,%s,%s\n",
			s.SaleID, s.Timestamp, s.SalesmanID, s.SalesmanName, s.CustomerID,
			s.ProductID, s.ProductName, s.Quantity, s.UnitPrice, s.TotalAmount,
			s.City, s.Country)
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Rename so the watcher only ever sees complete files.
	return os.Rename(f.Name(), name)
}

func writeJSONBatch(dir string, sales []model.CanonicalSaleEvent) error {
	name := filepath.Join(dir, fmt.Sprintf("sales_%d.json", time.Now().UnixNano()))
	f, err := os.CreateTemp(dir, "datagen-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sales); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}

// insertRows writes into the monitored sales table; the notify trigger does
// the rest.
func insertRows(ctx context.Context, dsn string, interval time.Duration, gen *generator) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("[Datagen] Failed to open database", "error", err)
		return
	}
	defer db.Close()

	const insert = `
		INSERT INTO sales (sale_id, ts, salesman_id, salesman_name, customer_id,
			product_id, product_name, quantity, unit_price, total_amount, city, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (sale_id) DO NOTHING`

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := gen.sale()
			if _, err := db.ExecContext(ctx, insert,
				s.SaleID, s.Timestamp, s.SalesmanID, s.SalesmanName, s.CustomerID,
				s.ProductID, s.ProductName, s.Quantity, s.UnitPrice, s.TotalAmount,
				s.City, s.Country,
			); err != nil {
				slog.Error("[Datagen] Failed to insert sale", "error", err)
			}
		}
	}
}
