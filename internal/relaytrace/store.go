// Package relaytrace is the Relay Trace Store: an append-only span log
// persisted to SQLite, mirrored to OpenTelemetry and Prometheus, with
// on-demand percentile aggregation over a rolling retention window (spec
// §4.8). Grounded on the teacher's SQLite store shape
// (internal/store/pg/sessions.go's db+in-memory-cache split, with the cache
// dropped: spans are immutable and every read queries SQLite directly).
package relaytrace

import (
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/internal/sqlitestore"
)

const schema = `
CREATE TABLE IF NOT EXISTS spans (
	trace_id       TEXT NOT NULL,
	span_id        TEXT NOT NULL PRIMARY KEY,
	parent_span_id TEXT,
	message_id     TEXT NOT NULL,
	kind           TEXT NOT NULL,
	subject        TEXT NOT NULL,
	status         TEXT NOT NULL,
	start_ts       INTEGER NOT NULL,
	end_ts         INTEGER NOT NULL,
	error          TEXT,
	metadata       TEXT
);
CREATE INDEX IF NOT EXISTS idx_spans_message_id ON spans(message_id);
CREATE INDEX IF NOT EXISTS idx_spans_subject ON spans(subject);
CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id);
CREATE INDEX IF NOT EXISTS idx_spans_start_ts ON spans(start_ts);
`

// DefaultRetention is the rolling window older spans are pruned past (spec
// §4.8, "configurable, default 7 days").
const DefaultRetention = 7 * 24 * time.Hour

// OTelExporter receives a mirrored copy of every span, when OTel export is
// enabled. Implemented by internal/telemetry.OTelBridge, a thin adapter over
// go.opentelemetry.io/otel's trace.Tracer, kept as an interface here to avoid
// a hard OTel SDK dependency in this package's unit tests.
type OTelExporter interface {
	ExportSpan(relay.Span)
}

// MetricsSink receives latency/dead-letter observations for Prometheus
// export, implemented by internal/telemetry.PrometheusSink over a
// prometheus.Registry.
type MetricsSink interface {
	ObserveDeliverLatency(subject string, d time.Duration)
	IncDeadLetter(reason string)
}

// Store is the Relay Trace Store.
type Store struct {
	db        *sql.DB
	retention time.Duration
	otel      OTelExporter
	metrics   MetricsSink

	mu      sync.Mutex
	pruneAt time.Time
}

// Open opens (creating if absent) the trace store at path.
func Open(path string, otel OTelExporter, metrics MetricsSink) (*Store, error) {
	db, err := sqlitestore.Open(path, schema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, retention: DefaultRetention, otel: otel, metrics: metrics}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordSpan implements relay.Tracer: persists the span, mirrors it to OTel,
// and updates the Prometheus sink.
func (s *Store) RecordSpan(span relay.Span) {
	var metaJSON []byte
	if span.Metadata != nil {
		metaJSON, _ = json.Marshal(span.Metadata)
	}
	_, _ = s.db.Exec(
		`INSERT OR IGNORE INTO spans (trace_id, span_id, parent_span_id, message_id, kind, subject, status, start_ts, end_ts, error, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		span.TraceID, span.SpanID, span.ParentSpanID, span.MessageID, string(span.Kind), span.Subject, span.Status,
		span.StartTs.UnixMilli(), span.EndTs.UnixMilli(), span.Err, string(metaJSON),
	)

	if s.otel != nil {
		s.otel.ExportSpan(span)
	}
	if s.metrics != nil {
		if span.Kind == relay.SpanDeliver {
			s.metrics.ObserveDeliverLatency(span.Subject, span.EndTs.Sub(span.StartTs))
		}
		if span.Kind == relay.SpanDeadLetter {
			reason := ""
			if span.Metadata != nil {
				if r, ok := span.Metadata["reason"].(string); ok {
					reason = r
				}
			}
			s.metrics.IncDeadLetter(reason)
		}
	}

	s.maybePrune()
}

// GetSpanByMessageID returns the first span recorded for messageID.
func (s *Store) GetSpanByMessageID(messageID string) (relay.Span, bool, error) {
	row := s.db.QueryRow(
		`SELECT trace_id, span_id, parent_span_id, message_id, kind, subject, status, start_ts, end_ts, error, metadata
		 FROM spans WHERE message_id = ? ORDER BY start_ts ASC LIMIT 1`, messageID)
	span, err := scanSpan(row)
	if err == sql.ErrNoRows {
		return relay.Span{}, false, nil
	}
	if err != nil {
		return relay.Span{}, false, err
	}
	return span, true, nil
}

// GetTrace returns every span for traceID ordered by start time.
func (s *Store) GetTrace(traceID string) ([]relay.Span, error) {
	rows, err := s.db.Query(
		`SELECT trace_id, span_id, parent_span_id, message_id, kind, subject, status, start_ts, end_ts, error, metadata
		 FROM spans WHERE trace_id = ? ORDER BY start_ts ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relay.Span
	for rows.Next() {
		span, err := scanSpanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, span)
	}
	return out, rows.Err()
}

// Metrics is the aggregate view returned by GetMetrics.
type Metrics struct {
	DeliverLatencyP50Ms map[string]float64 // by subject prefix (first token)
	DeliverLatencyP95Ms map[string]float64
	DeliverLatencyP99Ms map[string]float64
	DeadLetterCounts    map[string]int // by reason
	WindowStart         time.Time
	WindowEnd           time.Time
}

// GetMetrics aggregates deliver-latency percentiles by subject prefix and
// dead-letter counts by reason over the retention window (spec §4.8).
func (s *Store) GetMetrics() (Metrics, error) {
	now := time.Now()
	windowStart := now.Add(-s.retention)

	rows, err := s.db.Query(
		`SELECT subject, start_ts, end_ts FROM spans WHERE kind = ? AND start_ts >= ?`,
		string(relay.SpanDeliver), windowStart.UnixMilli())
	if err != nil {
		return Metrics{}, err
	}
	latenciesByPrefix := map[string][]float64{}
	for rows.Next() {
		var subject string
		var start, end int64
		if err := rows.Scan(&subject, &start, &end); err != nil {
			rows.Close()
			return Metrics{}, err
		}
		prefix := subjectPrefix(subject)
		latenciesByPrefix[prefix] = append(latenciesByPrefix[prefix], float64(end-start))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Metrics{}, err
	}

	dlRows, err := s.db.Query(
		`SELECT metadata FROM spans WHERE kind = ? AND start_ts >= ?`,
		string(relay.SpanDeadLetter), windowStart.UnixMilli())
	if err != nil {
		return Metrics{}, err
	}
	deadLetters := map[string]int{}
	for dlRows.Next() {
		var metaJSON sql.NullString
		if err := dlRows.Scan(&metaJSON); err != nil {
			dlRows.Close()
			return Metrics{}, err
		}
		reason := "unknown"
		if metaJSON.Valid {
			var meta map[string]any
			if json.Unmarshal([]byte(metaJSON.String), &meta) == nil {
				if r, ok := meta["reason"].(string); ok {
					reason = r
				}
			}
		}
		deadLetters[reason]++
	}
	dlRows.Close()
	if err := dlRows.Err(); err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		DeliverLatencyP50Ms: map[string]float64{},
		DeliverLatencyP95Ms: map[string]float64{},
		DeliverLatencyP99Ms: map[string]float64{},
		DeadLetterCounts:    deadLetters,
		WindowStart:         windowStart,
		WindowEnd:           now,
	}
	for prefix, samples := range latenciesByPrefix {
		sort.Float64s(samples)
		m.DeliverLatencyP50Ms[prefix] = percentile(samples, 0.50)
		m.DeliverLatencyP95Ms[prefix] = percentile(samples, 0.95)
		m.DeliverLatencyP99Ms[prefix] = percentile(samples, 0.99)
	}
	return m, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func subjectPrefix(subject string) string {
	for i, r := range subject {
		if r == '.' {
			return subject[:i]
		}
	}
	return subject
}

// maybePrune deletes spans older than the retention window, throttled to at
// most once per minute so every RecordSpan call doesn't pay a DELETE scan.
func (s *Store) maybePrune() {
	s.mu.Lock()
	if time.Since(s.pruneAt) < time.Minute {
		s.mu.Unlock()
		return
	}
	s.pruneAt = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention).UnixMilli()
	_, _ = s.db.Exec(`DELETE FROM spans WHERE start_ts < ?`, cutoff)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row *sql.Row) (relay.Span, error) {
	return scanSpanGeneric(row)
}

func scanSpanRows(rows *sql.Rows) (relay.Span, error) {
	return scanSpanGeneric(rows)
}

func scanSpanGeneric(r rowScanner) (relay.Span, error) {
	var span relay.Span
	var parentSpanID, errText, metaJSON sql.NullString
	var kind, status string
	var startMs, endMs int64
	if err := r.Scan(&span.TraceID, &span.SpanID, &parentSpanID, &span.MessageID, &kind, &span.Subject, &status, &startMs, &endMs, &errText, &metaJSON); err != nil {
		return relay.Span{}, err
	}
	span.ParentSpanID = parentSpanID.String
	span.Kind = relay.SpanKind(kind)
	span.Status = status
	span.StartTs = time.UnixMilli(startMs)
	span.EndTs = time.UnixMilli(endMs)
	span.Err = errText.String
	if metaJSON.Valid && metaJSON.String != "" {
		var meta map[string]any
		if json.Unmarshal([]byte(metaJSON.String), &meta) == nil {
			span.Metadata = meta
		}
	}
	return span, nil
}
