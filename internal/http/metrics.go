package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/qaflow/internal/http"

// HTTPMetrics records request metrics to OpenTelemetry and to a Prometheus
// registry served on /metrics.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter

	registry    *prometheus.Registry
	promCounter *prometheus.CounterVec
}

// NewHTTPMetrics creates HTTPMetrics on the global meter provider and a fresh
// Prometheus registry.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"qaflow.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, route and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"qaflow.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"qaflow.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}

	m.registry = prometheus.NewRegistry()
	m.promCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qaflow_http_requests_total",
		Help: "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})
	m.registry.MustRegister(
		m.promCounter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the Prometheus registry served on /metrics.
func (m *HTTPMetrics) Registry() *prometheus.Registry { return m.registry }

// MetricsMiddleware returns an Echo middleware that records request metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
				err = nil
			}

			route := normalizePath(c.Path())
			status := c.Response().Status
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", route),
				attribute.Int("status", status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			m.promCounter.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			return err
		}
	}
}

// normalizePath keeps label cardinality bounded. Echo reports the route
// pattern (/api/v1/tickets/:key/context), so only unmatched requests need a
// placeholder.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
