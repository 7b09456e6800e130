package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teamred/datapipeline/internal/model"
)

// settleDelay gives the writing process a moment to finish before a dropped
// file is read.
const settleDelay = 100 * time.Millisecond

// FileSource watches a drop directory for .csv and .json sales files,
// publishes their rows as canonical events and archives the file.
type FileSource struct {
	producer   *Producer
	watchDir   string
	archiveDir string
}

// NewFileSource builds a watcher over watchDir, archiving into archiveDir.
func NewFileSource(producer *Producer, watchDir, archiveDir string) *FileSource {
	return &FileSource{producer: producer, watchDir: watchDir, archiveDir: archiveDir}
}

// Run watches until ctx is cancelled. Files already present at startup are
// processed first so a restart never strands a drop.
func (s *FileSource) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.watchDir, 0o755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", s.watchDir, err)
	}

	slog.Info("[FileSource] Started", "watch_dir", s.watchDir)
	s.sweepExisting()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[FileSource] Stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				time.Sleep(settleDelay)
				s.processPath(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("[FileSource] Watcher error", "error", err)
		}
	}
}

func (s *FileSource) sweepExisting() {
	entries, err := os.ReadDir(s.watchDir)
	if err != nil {
		slog.Error("[FileSource] Cannot list watch directory", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			s.processPath(filepath.Join(s.watchDir, e.Name()))
		}
	}
}

func (s *FileSource) processPath(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	var (
		events    []*model.CanonicalSaleEvent
		parseErrs int
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		events, parseErrs, err = s.parseCSVFile(path)
	case ".json":
		events, err = s.parseJSONFile(path)
	default:
		slog.Warn("[FileSource] Ignoring unknown file type", "file", path)
		return
	}
	if err != nil {
		slog.Error("[FileSource] Failed to process file", "file", path, "error", err)
		return
	}

	published := 0
	for _, ev := range events {
		if s.producer.Publish(ev) {
			published++
		}
	}
	s.archive(path)
	slog.Info("[FileSource] Processed file",
		"file", filepath.Base(path), "published", published, "parse_errors", parseErrs)
}

func (s *FileSource) parseCSVFile(path string) ([]*model.CanonicalSaleEvent, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return s.parseCSV(f)
}

// parseCSV reads rows of
// sale_id,timestamp,salesman_id,salesman_name,customer_id,product_id,
// product_name,quantity,unit_price,total_amount,city,country.
// Bad rows are skipped with an error counter; they never fail the file.
func (s *FileSource) parseCSV(r io.Reader) ([]*model.CanonicalSaleEvent, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 12
	reader.TrimLeadingSpace = true

	var (
		events    []*model.CanonicalSaleEvent
		parseErrs int
		first     = true
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrs++
			s.producer.metrics.EventsDropped.WithLabelValues(s.producer.component, "malformed").Inc()
			continue
		}
		if first {
			first = false
			if row[0] == "sale_id" {
				continue
			}
		}
		ev, err := eventFromCSVRow(row)
		if err != nil {
			parseErrs++
			s.producer.metrics.EventsDropped.WithLabelValues(s.producer.component, "malformed").Inc()
			slog.Warn("[FileSource] Skipping malformed row", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, parseErrs, nil
}

func eventFromCSVRow(row []string) (*model.CanonicalSaleEvent, error) {
	ts, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", row[1], err)
	}
	quantity, err := strconv.Atoi(row[7])
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", row[7], err)
	}
	unitPrice, err := strconv.ParseFloat(row[8], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid unit_price %q: %w", row[8], err)
	}
	totalAmount, err := strconv.ParseFloat(row[9], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid total_amount %q: %w", row[9], err)
	}
	return &model.CanonicalSaleEvent{
		SaleID:       row[0],
		Timestamp:    ts,
		SalesmanID:   row[2],
		SalesmanName: row[3],
		CustomerID:   row[4],
		ProductID:    row[5],
		ProductName:  row[6],
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		TotalAmount:  totalAmount,
		City:         row[10],
		Country:      row[11],
	}, nil
}

// parseJSONFile accepts either a JSON array of events or a single object.
func (s *FileSource) parseJSONFile(path string) ([]*model.CanonicalSaleEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []*model.CanonicalSaleEvent
	if err := json.Unmarshal(data, &events); err == nil {
		return events, nil
	}
	var single model.CanonicalSaleEvent
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return []*model.CanonicalSaleEvent{&single}, nil
}

func (s *FileSource) archive(path string) {
	target := filepath.Join(s.archiveDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		slog.Error("[FileSource] Failed to archive file", "file", path, "error", err)
	}
}
