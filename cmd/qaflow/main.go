// Package main implements the qaflow CLI: the MCP stdio server, the HTTP
// API and one-shot commands for each QA action.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/services"
	"github.com/fyrsmithlabs/qaflow/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

// Exit codes.
const (
	exitError        = 1
	exitInvalidInput = 2
	exitPartial      = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorMessage(err))
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "qaflow",
	Short: "QA workflow orchestration across Jira, GitHub, Jenkins and AWS",
	Long: `qaflow links tickets to code changes, builds and deployments, and drives
the QA ticket workflow.

Run it as an MCP server for an assistant, as an HTTP API, or call single
actions from the shell. Results are printed as JSON.

Examples:
  qaflow mcp
  qaflow serve --config /etc/qaflow/config.yaml
  qaflow context PROJ-123
  qaflow claim PROJ-123 --validator alice`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/qaflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "qaflow by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	svc    *services.Service
}

func (a *app) Close() {
	if a.tel != nil {
		if err := a.tel.Shutdown(context.Background()); err != nil {
			a.logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// openApp is swapped out in tests.
var openApp = bootstrap

// bootstrap loads configuration, then builds telemetry, the logger and the
// service, in that order.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logCfg.Output.OTEL = tel.IsEnabled()
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", health.Reason))
	}

	svc, err := services.FromConfig(ctx, cfg, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, tel: tel, svc: svc}, nil
}

// withApp runs fn with a bootstrapped app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// printJSON writes v indented to w. On a partial or inconclusive result the
// value is still printed before err is returned.
func printJSON(w io.Writer, v any, err error) error {
	if err != nil && !carriesResult(err) {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(v); encErr != nil {
		return fmt.Errorf("encoding output: %w", encErr)
	}
	return err
}

func carriesResult(err error) bool {
	switch qa.KindOf(err) {
	case qa.KindPartialWorkflowFailure, qa.KindVerificationInconclusive, qa.KindTimedOut, qa.KindPollFailure:
		return true
	}
	return false
}

func exitCode(err error) int {
	var flagErr *flagError
	if errors.As(err, &flagErr) {
		return exitInvalidInput
	}
	switch qa.KindOf(err) {
	case qa.KindInvalidInput:
		return exitInvalidInput
	case qa.KindPartialWorkflowFailure:
		return exitPartial
	}
	return exitError
}

func errorMessage(err error) string {
	var flagErr *flagError
	if errors.As(err, &flagErr) {
		return flagErr.Error()
	}
	return qa.Describe(err)
}

// exactArgs is cobra.ExactArgs with the error marked as a usage mistake.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &flagError{err: err}
		}
		return nil
	}
}

// flagError marks usage mistakes caught by cobra.
type flagError struct{ err error }

func (e *flagError) Error() string { return e.err.Error() }
func (e *flagError) Unwrap() error { return e.err }

func init() {
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &flagError{err: err}
	})
}
