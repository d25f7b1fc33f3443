package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/qaflow/internal/http"
	mcpserver "github.com/fyrsmithlabs/qaflow/internal/mcp"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the QA actions over HTTP, with /health and Prometheus /metrics.

The listen address comes from server.http_host and server.http_port.

Examples:
  qaflow serve
  QAFLOW_SERVER_HTTP_PORT=8080 qaflow serve`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(cmd, func(_ context.Context, a *app) error {
			return runServe(ctx, a)
		})
	},
}

// runServe blocks until ctx is cancelled, then shuts the server down within
// server.shutdown_timeout.
func runServe(ctx context.Context, a *app) error {
	srv, err := httpserver.NewServer(a.svc, a.logger, &httpserver.Config{
		Host:    a.cfg.Server.Host,
		Port:    a.cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the QA tools over MCP on stdio",
	Long: `Serve the qa_* tools to an MCP client over stdin and stdout.
Logs go to stderr.

Example client configuration:
  {"mcpServers": {"qaflow": {"command": "qaflow", "args": ["mcp"]}}}`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(cmd, func(_ context.Context, a *app) error {
			srv, err := mcpserver.NewServer(&mcpserver.Config{
				Name:    "qaflow",
				Version: version,
				Logger:  a.logger,
			}, a.svc)
			if err != nil {
				return fmt.Errorf("creating mcp server: %w", err)
			}
			fmt.Fprintf(os.Stderr, "qaflow MCP server started (%d tools)\n", srv.Tools().Count())
			return srv.Run(ctx)
		})
	},
}
