// Package lineage is the correlation library shared by every producing and
// consuming component. It stamps, reads and forwards lineage metadata on
// record headers, and defines the audit record persisted per business key.
package lineage

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/teamred/datapipeline/internal/model"
)

// Header keys carried on every record hop. All values are UTF-8 strings.
const (
	HeaderLineageID          = "lineage-id"
	HeaderSourceSystem       = "source-system"
	HeaderSourceTimestamp    = "source-timestamp"
	HeaderIngestionTimestamp = "ingestion-timestamp"
)

// Headers is the transport-level metadata map lineage rides on.
type Headers map[string]string

// Generate mints a new lineage id. Called exactly once per event, at the
// earliest point the event exists.
func Generate() string {
	return uuid.NewString()
}

// Attach stamps the full lineage header set onto h. The ingestion timestamp
// is taken from the wall clock at the call site. No I/O.
func Attach(h Headers, lineageID string, source model.SourceSystem, sourceTimestamp time.Time) {
	h[HeaderLineageID] = lineageID
	h[HeaderSourceSystem] = string(source)
	h[HeaderSourceTimestamp] = strconv.FormatInt(sourceTimestamp.UnixMilli(), 10)
	h[HeaderIngestionTimestamp] = strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// Read returns the header value for key, or ok=false when absent. Never errors.
func Read(h Headers, key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ReadTime reads an epoch-millis header as a time.Time.
func ReadTime(h Headers, key string) (time.Time, bool) {
	v, ok := Read(h, key)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Forward copies the immutable lineage headers (id, source system, source
// timestamp) from src to dst unchanged and re-stamps the ingestion timestamp
// to now — each hop records when it forwarded the event.
func Forward(src, dst Headers) {
	for _, key := range []string{HeaderLineageID, HeaderSourceSystem, HeaderSourceTimestamp} {
		if v, ok := Read(src, key); ok {
			dst[key] = v
		}
	}
	dst[HeaderIngestionTimestamp] = strconv.FormatInt(time.Now().UnixMilli(), 10)
}
