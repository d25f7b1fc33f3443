package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	assert.Nil(t, tel)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestNew_ExportsThroughOverrides(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceVersion = "1.2.3"
	tel, err := New(ctx, cfg, WithSpanExporter(exporter), WithMetricReader(reader))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("qaflow.test").Start(ctx, "workflow.claim")
	span.SetAttributes(attribute.String("ticket.key", "PROJ-1"))
	span.End()

	counter, err := tel.Meter("qaflow.test").Int64Counter("qaflow.test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	require.NoError(t, tel.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.claim", spans[0].Name)

	var found bool
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.version" {
			assert.Equal(t, "1.2.3", kv.Value.AsString())
			found = true
		}
	}
	assert.True(t, found)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "qaflow.test.calls", rm.ScopeMetrics[0].Metrics[0].Name)

	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	tel.SetLoggerProvider(noop.NewLoggerProvider())
}

func TestTelemetry_LoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)

	lp := noop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}

func TestSetDegraded_KeepsFirstReason(t *testing.T) {
	tel := &Telemetry{}
	tel.healthy.Store(true)
	tel.setDegraded("tracer provider: %v", "dial refused")
	tel.setDegraded("meter provider: %v", "dial refused")

	health := tel.Health()
	assert.True(t, health.Degraded)
	assert.Equal(t, "tracer provider: dial refused", health.Reason)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)
	ctx := context.Background()

	_, span := tt.Tracer("qaflow.test").Start(ctx, "aggregate.get_context")
	span.SetAttributes(attribute.Int("sources", 4))
	span.End()
	tt.AssertSpanExists(t, "aggregate.get_context")
	tt.AssertSpanAttribute(t, "aggregate.get_context", "sources", int64(4))

	hist, err := tt.Meter("qaflow.test").Float64Histogram("qaflow.test.seconds")
	require.NoError(t, err)
	hist.Record(ctx, 0.5)

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "qaflow.test.seconds")
}
