// Package telemetry supplies the concrete OTel/Prometheus adapters the
// Relay Trace Store's OTelExporter/MetricsSink interfaces ask for, kept out
// of internal/relaytrace so that package's own tests never need a live SDK
// or registry (spec §4.8, Domain Stack OTel/Prometheus rows).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dorkos/dorkos/internal/relay"
)

// OTelBridge implements relaytrace.OTelExporter over an OTel trace.Tracer.
// Each relay.Span is replayed as a completed OTel span spanning its already-
// recorded start/end timestamps, since the Relay Bus records spans after
// the fact rather than holding a live OTel span open across the publish
// pipeline's async delivery.
type OTelBridge struct {
	Tracer trace.Tracer
}

// ExportSpan mirrors span into the configured OTel tracer.
func (b OTelBridge) ExportSpan(span relay.Span) {
	if b.Tracer == nil {
		return
	}
	_, otelSpan := b.Tracer.Start(context.Background(), string(span.Kind), trace.WithTimestamp(span.StartTs))
	otelSpan.SetAttributes(
		attribute.String("relay.trace_id", span.TraceID),
		attribute.String("relay.span_id", span.SpanID),
		attribute.String("relay.message_id", span.MessageID),
		attribute.String("relay.subject", span.Subject),
		attribute.String("relay.status", span.Status),
	)
	if span.Err != "" {
		otelSpan.SetStatus(codes.Error, span.Err)
	}
	otelSpan.End(trace.WithTimestamp(span.EndTs))
}

// durationMs is a small helper kept for symmetry with MetricsSink's
// histogram observations, which want float seconds rather than a
// time.Duration.
func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
