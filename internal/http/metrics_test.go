package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/tickets/:key/claim", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/tickets/PROJ-1/claim", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/tickets/PROJ-2/claim", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			switch m.Name {
			case "qaflow.http.requests_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byRoute := map[string]int64{}
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value("endpoint")
					status, _ := dp.Attributes.Value("status")
					byRoute[route.AsString()] += dp.Value
					if route.AsString() == "/api/v1/tickets/:key/claim" {
						assert.Equal(t, int64(http.StatusBadRequest), status.AsInt64())
					}
				}
				assert.Equal(t, map[string]int64{"/health": 1, "/api/v1/tickets/:key/claim": 2}, byRoute)
			case "qaflow.http.request_duration_seconds":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(3), total)
			}
		}
	}
	assert.True(t, found["qaflow.http.requests_total"])
	assert.True(t, found["qaflow.http.request_duration_seconds"])
	assert.True(t, found["qaflow.http.active_requests"])
}

func TestMetricsEndpoint(t *testing.T) {
	server, svc := setupTestServer(t)
	svc.On("GetContext", mock.Anything, "PROJ-9").Return((*qa.ContextSnapshot)(nil), qa.NotFound("jira.get", nil, "PROJ-9"))

	do(server, http.MethodGet, "/api/v1/tickets/PROJ-9/context", "")
	rec := do(server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "qaflow_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/tickets/:key/context"`)
	assert.Contains(t, body, `status="404"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/tickets/:key/context", normalizePath("/api/v1/tickets/:key/context"))
}
