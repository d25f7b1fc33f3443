package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

const instrumentationName = "github.com/fyrsmithlabs/qaflow/internal/mcp"

// Metrics holds the MCP tool metrics.
type Metrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"qaflow.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create invocations counter", zap.Error(err))
	}

	// Tools that wait on builds run for minutes, hence the long tail.
	m.duration, err = m.meter.Float64Histogram(
		"qaflow.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 2700),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"qaflow.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"qaflow.mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}
}

// RecordInvocation records one tool call. Errors are labelled with their kind.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
	}

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		errorAttrs := append(attrs, attribute.String("kind", string(qa.KindOf(err))))
		m.errors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// IncrementActive increments the active requests counter.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

// DecrementActive decrements the active requests counter.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}
