// Package http provides the qaflow operator HTTP API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/services"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// Service is the set of QA actions the HTTP API exposes.
type Service interface {
	GetContext(ctx context.Context, key string) (*qa.ContextSnapshot, error)
	FindTickets(ctx context.Context, q services.TicketQuery) (services.TicketList, error)
	Claim(ctx context.Context, key, validator string) (workflow.Report, error)
	ResolvePass(ctx context.Context, key, comment string) (workflow.Report, error)
	ResolveFail(ctx context.Context, key, bugReport string) (workflow.Report, error)
	Verify(ctx context.Context, key string, opts workflow.VerifyOptions) (workflow.VerifyResult, error)
	WaitForBuild(ctx context.Context, req buildwait.Request) (buildwait.Outcome, error)
}

var _ Service = (*services.Service)(nil)

// Server provides HTTP endpoints for qaflow.
type Server struct {
	echo    *echo.Echo
	svc     Service
	metrics *HTTPMetrics
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(svc Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		metrics: NewHTTPMetrics(logger),
		logger:  logger,
		config:  cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestContext attaches the logger and request id to the request context
// and logs the finished request.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(logging.WithLogger(req.Context(), s.logger), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/tickets", s.handleFindTickets)
	v1.GET("/tickets/:key/context", s.handleContext)
	v1.POST("/tickets/:key/claim", s.handleClaim)
	v1.POST("/tickets/:key/resolve-pass", s.handleResolvePass)
	v1.POST("/tickets/:key/resolve-fail", s.handleResolveFail)
	v1.POST("/tickets/:key/verify", s.handleVerify)
	v1.POST("/builds/wait", s.handleWaitBuild)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) handleContext(c echo.Context) error {
	snap, err := s.svc.GetContext(c.Request().Context(), c.Param("key"))
	return respond(c, snap, err)
}

func (s *Server) handleFindTickets(c echo.Context) error {
	var req FindTicketsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	list, err := s.svc.FindTickets(c.Request().Context(), services.TicketQuery{
		Query:   req.Query,
		Project: req.Project,
		User:    req.User,
		Limit:   req.Limit,
	})
	return respond(c, list, err)
}

func (s *Server) handleClaim(c echo.Context) error {
	var req ClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := s.svc.Claim(c.Request().Context(), c.Param("key"), req.Validator)
	return respond(c, report, err)
}

func (s *Server) handleResolvePass(c echo.Context) error {
	var req ResolvePassRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := s.svc.ResolvePass(c.Request().Context(), c.Param("key"), req.Comment)
	return respond(c, report, err)
}

func (s *Server) handleResolveFail(c echo.Context) error {
	var req ResolveFailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	report, err := s.svc.ResolveFail(c.Request().Context(), c.Param("key"), req.BugReport)
	return respond(c, report, err)
}

func (s *Server) handleVerify(c echo.Context) error {
	var req VerifyRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	res, err := s.svc.Verify(c.Request().Context(), c.Param("key"), workflow.VerifyOptions{
		Environment:  req.Environment,
		RequireBuild: req.RequireBuild,
		Summary:      req.Summary,
	})
	return respond(c, res, err)
}

func (s *Server) handleWaitBuild(c echo.Context) error {
	var req WaitBuildRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.svc.WaitForBuild(c.Request().Context(), buildwait.Request{
		BuildID:      req.BuildID,
		ChangeID:     req.ChangeID,
		PollInterval: time.Duration(req.PollIntervalSeconds) * time.Second,
		MaxWait:      time.Duration(req.MaxWaitSeconds) * time.Second,
	})
	return respond(c, out, err)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
