package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry holds in-memory OpenTelemetry components for tests.
type TestTelemetry struct {
	*TelemetryImpl
	mr    *sdkmetric.ManualReader
	spans *tracetest.InMemoryExporter
}

// NewTestTelemetry creates an enabled Telemetry whose spans and metrics stay in memory.
func NewTestTelemetry(t *testing.T) *TestTelemetry {
	t.Helper()

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	otel.SetTracerProvider(tp)

	mr := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(mr))
	otel.SetMeterProvider(mp)

	impl := &TelemetryImpl{
		tp:      tp,
		mp:      mp,
		tracer:  tp.Tracer(instrumentationName),
		meter:   mp.Meter(instrumentationName),
		enabled: true,
	}
	if err := impl.initInstruments(); err != nil {
		t.Fatalf("init instruments: %v", err)
	}

	return &TestTelemetry{
		TelemetryImpl: impl,
		mr:            mr,
		spans:         spans,
	}
}

// GetReader returns the metric reader for testing
func (tt *TestTelemetry) GetReader() *sdkmetric.ManualReader {
	return tt.mr
}

// GetSpans returns the spans ended so far.
func (tt *TestTelemetry) GetSpans() tracetest.SpanStubs {
	return tt.spans.GetSpans()
}

// Shutdown gracefully shuts down the test telemetry providers
func (tt *TestTelemetry) Shutdown(ctx context.Context) error {
	return tt.TelemetryImpl.Shutdown(ctx)
}
