package relaytrace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dorkos/dorkos/internal/relay"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.db")
	s, err := Open(path, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSpan(traceID, spanID, messageID string, kind relay.SpanKind, start time.Time, dur time.Duration) relay.Span {
	return relay.Span{
		TraceID:   traceID,
		SpanID:    spanID,
		MessageID: messageID,
		Kind:      kind,
		Subject:   "mesh.agent.abc",
		Status:    "ok",
		StartTs:   start,
		EndTs:     start.Add(dur),
	}
}

func TestRecordAndGetSpanByMessageID(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.RecordSpan(sampleSpan("t1", "s1", "m1", relay.SpanDeliver, now, 10*time.Millisecond))

	got, ok, err := s.GetSpanByMessageID("m1")
	if err != nil {
		t.Fatalf("GetSpanByMessageID: %v", err)
	}
	if !ok {
		t.Fatal("expected span to be found")
	}
	if got.SpanID != "s1" {
		t.Fatalf("unexpected span ID: %s", got.SpanID)
	}
}

func TestGetTraceOrdersByStartTime(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	s.RecordSpan(sampleSpan("trace-x", "s2", "m2", relay.SpanRoute, base.Add(time.Second), time.Millisecond))
	s.RecordSpan(sampleSpan("trace-x", "s1", "m1", relay.SpanPublish, base, time.Millisecond))

	spans, err := s.GetTrace("trace-x")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].SpanID != "s1" || spans[1].SpanID != "s2" {
		t.Fatalf("expected spans ordered by start_ts, got %v", spans)
	}
}

func TestGetMetricsComputesPercentilesAndDeadLetters(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for i, dur := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond} {
		span := sampleSpan("t", "deliver-"+string(rune('a'+i)), "m", relay.SpanDeliver, now, dur)
		s.RecordSpan(span)
	}
	dead := relay.Span{
		TraceID: "t", SpanID: "dl1", MessageID: "m", Kind: relay.SpanDeadLetter,
		Subject: "mesh.agent.abc", Status: "dead", StartTs: now, EndTs: now,
		Metadata: map[string]any{"reason": "budget_exhausted"},
	}
	s.RecordSpan(dead)

	metrics, err := s.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if metrics.DeliverLatencyP50Ms["mesh"] <= 0 {
		t.Fatalf("expected nonzero p50, got %v", metrics.DeliverLatencyP50Ms)
	}
	if metrics.DeadLetterCounts["budget_exhausted"] != 1 {
		t.Fatalf("expected 1 budget_exhausted dead letter, got %v", metrics.DeadLetterCounts)
	}
}

type fakeMetricsSink struct {
	observed   []time.Duration
	deadLetter []string
}

func (f *fakeMetricsSink) ObserveDeliverLatency(subject string, d time.Duration) {
	f.observed = append(f.observed, d)
}

func (f *fakeMetricsSink) IncDeadLetter(reason string) {
	f.deadLetter = append(f.deadLetter, reason)
}

func TestRecordSpanFeedsMetricsSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")
	sink := &fakeMetricsSink{}
	s, err := Open(path, nil, sink)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now()
	s.RecordSpan(sampleSpan("t", "s1", "m1", relay.SpanDeliver, now, 5*time.Millisecond))
	s.RecordSpan(relay.Span{TraceID: "t", SpanID: "s2", MessageID: "m1", Kind: relay.SpanDeadLetter, StartTs: now, EndTs: now, Metadata: map[string]any{"reason": "access_denied"}})

	if len(sink.observed) != 1 {
		t.Fatalf("expected 1 latency observation, got %d", len(sink.observed))
	}
	if len(sink.deadLetter) != 1 || sink.deadLetter[0] != "access_denied" {
		t.Fatalf("expected access_denied dead letter, got %v", sink.deadLetter)
	}
}
