package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TracerConfig configures the OTLP-HTTP exporter wired into the Relay Trace
// Store when Relay.TelemetryEnabled is set (spec Domain Stack, "Relay Trace
// Store span emission bridges into an OTel trace.Tracer").
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port, no scheme; empty disables export
}

// NewTracerProvider builds an OTLP-HTTP-exporting TracerProvider, grounded
// on haasonsaas-nexus/internal/observability/tracing.go's provider
// construction, narrowed from its gRPC exporter to the HTTP one actually
// vendored here and trimmed to just provider+shutdown (DorkOS has one
// OTelExporter call site, not the teacher's full span-helper surface).
func NewTracerProvider(cfg TracerConfig) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return provider, provider.Shutdown, nil
}
