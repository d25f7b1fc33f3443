package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/backends/github"
	"github.com/fyrsmithlabs/qaflow/internal/backends/jenkins"
	"github.com/fyrsmithlabs/qaflow/internal/backends/jira"
	"github.com/fyrsmithlabs/qaflow/internal/backends/lambda"
	"github.com/fyrsmithlabs/qaflow/internal/backends/webex"
	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
	"github.com/fyrsmithlabs/qaflow/internal/secrets"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// SettingsFromConfig derives orchestration settings from configuration.
// Fields is left nil; FromConfig fills it from the tracker adapter.
func SettingsFromConfig(cfg *config.Config) Settings {
	transitions := make(map[string]workflow.Transition, len(cfg.Jira.Transitions))
	for name, t := range cfg.Jira.Transitions {
		transitions[name] = workflow.Transition{ID: t.ID, Status: t.Status}
	}

	return Settings{
		Environments:      cfg.Deploy.Environments,
		VerifyEnvironment: cfg.Deploy.VerifyEnvironment,
		ClockSkew:         cfg.Deploy.ClockSkew.Duration(),
		Jobs:              cfg.Jenkins.Jobs,
		RepoJobs:          cfg.Jenkins.RepoJobs,
		BranchParameter:   cfg.Jenkins.BranchParameter,
		PollInterval:      cfg.Orchestration.BuildWait.PollInterval.Duration(),
		MaxWait:           cfg.Orchestration.BuildWait.MaxWait.Duration(),
		RequireBuild:      cfg.Orchestration.RequireBuild,
		Transitions:       transitions,
		NotifyRoom:        cfg.Webex.RoomID,
		Project:           cfg.Jira.Project,
		TrackerUser:       cfg.Jira.Username,
		Queries:           cfg.Jira.Queries,
		Policy:            resilience.PolicyFromConfig(cfg.Orchestration),
	}
}

// FromConfig builds the adapters and the service from configuration. Chat is
// only wired when a Webex token is set.
func FromConfig(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Service, error) {
	tracker, err := jira.New(jira.FromConfig(cfg.Jira))
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	if err := CheckQueries(cfg.Jira.Queries); err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	codehost, err := github.New(ctx, github.FromConfig(cfg.GitHub))
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	ci, err := jenkins.New(jenkins.FromConfig(cfg.Jenkins))
	if err != nil {
		return nil, fmt.Errorf("jenkins: %w", err)
	}
	deployments, err := lambda.FromConfig(ctx, cfg.Deploy)
	if err != nil {
		return nil, fmt.Errorf("lambda: %w", err)
	}

	ports := Ports{
		Tickets:      tracker,
		Search:       tracker,
		CodeHost:     codehost,
		Descriptions: codehost,
		Builds:       ci,
		Deploy:       deployments,
	}
	if cfg.Webex.Token.IsSet() {
		chat, err := webex.FromConfig(cfg.Webex)
		if err != nil {
			return nil, fmt.Errorf("webex: %w", err)
		}
		ports.Chat = chat
	}

	scrubber, err := secrets.New(secrets.FromConfig(cfg.Secrets))
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	settings := SettingsFromConfig(cfg)
	settings.Fields = tracker.SupportedFields()
	settings.Scrubber = scrubber

	if logger != nil {
		logger.Info(ctx, "services configured",
			zap.Strings("environments", settings.Environments),
			zap.String("verify_environment", settings.VerifyEnvironment),
			zap.Bool("chat", ports.Chat != nil),
			zap.Int("transitions", len(settings.Transitions)),
			zap.Int("queries", len(settings.Queries)),
		)
	}
	return New(NewRegistry(ports, settings), settings, logger), nil
}
