package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
}

// NewTestTelemetry creates in-memory telemetry. It does not touch the otel
// globals; call Install for code that records through them.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tel := &Telemetry{
		config:         cfg,
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	tel.healthy.Store(true)
	return &TestTelemetry{Telemetry: tel, SpanRecorder: recorder, MetricReader: reader}
}

// Install makes the in-memory providers global until the test ends.
func (t *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
}

// Spans returns the ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists fails tb when no span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		var names []string
		for _, s := range t.Spans() {
			names = append(names, s.Name())
		}
		tb.Errorf("expected span %q not found, got: %v", name, names)
	}
}

// AssertSpanAttribute fails tb unless span spanName has key set to expected.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, expected any) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			if got := attr.Value.AsInterface(); got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// Collect gathers the current metrics.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.MetricReader.Collect(ctx, &rm)
	return rm, err
}

// MetricNames lists the names of the metrics collected so far.
func (t *TestTelemetry) MetricNames(ctx context.Context) ([]string, error) {
	rm, err := t.Collect(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names, nil
}
