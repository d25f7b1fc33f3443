package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/deploy"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/services"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// Service is the set of QA actions the tools expose.
type Service interface {
	GetContext(ctx context.Context, key string) (*qa.ContextSnapshot, error)
	FindTickets(ctx context.Context, q services.TicketQuery) (services.TicketList, error)
	Claim(ctx context.Context, key, validator string) (workflow.Report, error)
	ResolvePass(ctx context.Context, key, comment string) (workflow.Report, error)
	ResolveFail(ctx context.Context, key, bugReport string) (workflow.Report, error)
	Verify(ctx context.Context, key string, opts workflow.VerifyOptions) (workflow.VerifyResult, error)
	WaitForBuild(ctx context.Context, req buildwait.Request) (buildwait.Outcome, error)
	FindChanges(ctx context.Context, key string, repositories []string) (correlate.Result, error)
	CompareEnvironments(ctx context.Context, artifactID string, environments []string) (deploy.Comparison, error)
	RecentBuilds(ctx context.Context, job string, limit int) ([]qa.BuildRun, error)
	TriggerE2E(ctx context.Context, req services.TriggerRequest) (services.TriggerResult, error)
	FindChangeForCommit(ctx context.Context, repository, sha string) (*qa.CodeChange, error)
	Notify(ctx context.Context, room, markdown string) error
}

var _ Service = (*services.Service)(nil)

// Server serves the QA tools over MCP.
type Server struct {
	mcp          *mcp.Server
	svc          Service
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "qaflow")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *logging.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "qaflow",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a server with every tool registered.
func NewServer(cfg *Config, svc Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:          svc,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Tools returns the registered tool metadata.
func (s *Server) Tools() *ToolRegistry { return s.toolRegistry }

// Run serves on the stdio transport until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
