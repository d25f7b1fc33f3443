// Package config provides configuration loading for qaflow.
//
// Configuration is read from a YAML file and overridden by QAFLOW_-prefixed
// environment variables. Credentials are held as Secret so they never reach
// logs or JSON output.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the complete qaflow configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Jira          JiraConfig          `koanf:"jira"`
	GitHub        GitHubConfig        `koanf:"github"`
	Jenkins       JenkinsConfig       `koanf:"jenkins"`
	Deploy        DeployConfig        `koanf:"deploy"`
	Webex         WebexConfig         `koanf:"webex"`
	Orchestration OrchestrationConfig `koanf:"orchestration"`
	Secrets       SecretsConfig       `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"otlp_endpoint"`
	Protocol        string `koanf:"otlp_protocol"`
	Insecure        bool   `koanf:"otlp_insecure"`
	TLSSkipVerify   bool   `koanf:"otlp_tls_skip_verify"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TransitionConfig names a tracker transition and the status it leads to.
type TransitionConfig struct {
	ID     string `koanf:"id"`
	Status string `koanf:"status"`
}

// JiraConfig configures the issue-tracker adapter and the ticket workflow.
type JiraConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	APIToken Secret `koanf:"api_token"`

	// Fields maps semantic names (validator, test_result, repositories) to
	// custom field ids such as customfield_10100.
	Fields map[string]string `koanf:"fields"`

	// TestResultValues maps pass, fail and in_progress to select option values.
	TestResultValues map[string]string `koanf:"test_result_values"`

	// Transitions maps claim, resolve and reopen to transition ids.
	Transitions map[string]TransitionConfig `koanf:"transitions"`

	RateLimit float64 `koanf:"rate_limit"`

	// Project is the default project key for ticket queries.
	Project string `koanf:"project"`

	// Queries are named JQL templates. Entries are merged over
	// DefaultQueries, so a configured name replaces the built-in one.
	Queries map[string]string `koanf:"queries"`
}

// DefaultQueries are the built-in QA queue searches. Templates see .Project
// and .User; quote renders a value as a JQL string literal.
var DefaultQueries = map[string]string{
	"ready_for_qa":   `project = {{quote .Project}} AND type in (Story, Bug, Task) AND status = "Ready for QA" ORDER BY priority DESC`,
	"in_progress":    `project = {{quote .Project}} AND type in (Story, Bug, Task) AND status in ("In Progress", "In Review") ORDER BY updated DESC`,
	"my_validations": `project = {{quote .Project}} AND assignee = {{quote .User}} AND status = "In QA" ORDER BY updated DESC`,
}

// GitHubConfig configures the code-host adapter.
type GitHubConfig struct {
	Token        Secret   `koanf:"token"`
	BaseURL      string   `koanf:"base_url"`
	Repositories []string `koanf:"repositories"`
	RateLimit    float64  `koanf:"rate_limit"`
}

// JenkinsConfig configures the CI adapter.
type JenkinsConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	APIToken Secret `koanf:"api_token"`

	// Jobs holds named job paths, e.g. e2e: "QA/job/e2e-tests".
	Jobs map[string]string `koanf:"jobs"`

	// RepoJobs maps a repository to the job that builds its branches.
	RepoJobs map[string]string `koanf:"repo_jobs"`

	BranchParameter string  `koanf:"branch_parameter"`
	RateLimit       float64 `koanf:"rate_limit"`
}

// DeployConfig configures the deployment adapter and comparison.
type DeployConfig struct {
	Region       string   `koanf:"region"`
	Environments []string `koanf:"environments"`

	// Functions maps repository -> environment -> function names.
	Functions map[string]map[string][]string `koanf:"functions"`

	// ClockSkew widens "deployed after merge" to LastModified >= MergedAt - ClockSkew.
	ClockSkew Duration `koanf:"clock_skew"`

	VerifyEnvironment string `koanf:"verify_environment"`
}

// WebexConfig configures chat notifications.
type WebexConfig struct {
	Token   Secret `koanf:"token"`
	BaseURL string `koanf:"base_url"`
	RoomID  string `koanf:"room_id"`
}

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	// MaxRetries of 0 disables retries. Unset means 3.
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	Multiplier     float64  `koanf:"multiplier"`
}

// BuildWaitConfig bounds build polling.
type BuildWaitConfig struct {
	PollInterval Duration `koanf:"poll_interval"`
	MaxWait      Duration `koanf:"max_wait"`
}

// OrchestrationConfig holds core timing and policy.
type OrchestrationConfig struct {
	CallTimeout  Duration        `koanf:"call_timeout"`
	Retry        RetryConfig     `koanf:"retry"`
	BuildWait    BuildWaitConfig `koanf:"build_wait"`
	RequireBuild bool            `koanf:"require_build"`
}

// SecretRule is an extra credential pattern for outbound redaction.
type SecretRule struct {
	ID       string   `koanf:"id"`
	Pattern  string   `koanf:"pattern"`
	Keywords []string `koanf:"keywords"`
}

// SecretsConfig controls redaction of comments and chat messages before
// they leave qaflow.
type SecretsConfig struct {
	Enabled   bool         `koanf:"enabled"`
	AllowList []string     `koanf:"allow_list"`
	Rules     []SecretRule `koanf:"rules"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Orchestration: OrchestrationConfig{
			RequireBuild: true,
			Retry:        RetryConfig{MaxRetries: 3},
		},
		Secrets: SecretsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "qaflow"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Jira.TestResultValues == nil {
		cfg.Jira.TestResultValues = map[string]string{
			"pass":        "Pass",
			"fail":        "Fail",
			"in_progress": "In Progress",
		}
	}

	if cfg.Jira.Queries == nil {
		cfg.Jira.Queries = make(map[string]string, len(DefaultQueries))
	}
	for name, q := range DefaultQueries {
		if _, ok := cfg.Jira.Queries[name]; !ok {
			cfg.Jira.Queries[name] = q
		}
	}

	if cfg.Jenkins.BranchParameter == "" {
		cfg.Jenkins.BranchParameter = "BRANCH"
	}

	if cfg.Webex.BaseURL == "" {
		cfg.Webex.BaseURL = "https://webexapis.com/v1"
	}

	if cfg.Deploy.Region == "" {
		cfg.Deploy.Region = "us-east-1"
	}
	if len(cfg.Deploy.Environments) == 0 {
		cfg.Deploy.Environments = []string{"dev", "staging", "prod"}
	}
	if cfg.Deploy.VerifyEnvironment == "" {
		cfg.Deploy.VerifyEnvironment = "staging"
	}

	o := &cfg.Orchestration
	if o.CallTimeout == 0 {
		o.CallTimeout = Duration(15 * time.Second)
	}
	if o.Retry.InitialBackoff == 0 {
		o.Retry.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if o.Retry.MaxBackoff == 0 {
		o.Retry.MaxBackoff = Duration(10 * time.Second)
	}
	if o.Retry.Multiplier == 0 {
		o.Retry.Multiplier = 2.0
	}
	if o.BuildWait.PollInterval == 0 {
		o.BuildWait.PollInterval = Duration(30 * time.Second)
	}
	if o.BuildWait.MaxWait == 0 {
		o.BuildWait.MaxWait = Duration(45 * time.Minute)
	}
}

// Validate checks configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}

	for name, raw := range map[string]string{
		"jira.url":        c.Jira.URL,
		"jenkins.url":     c.Jenkins.URL,
		"github.base_url": c.GitHub.BaseURL,
		"webex.base_url":  c.Webex.BaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}

	for name, q := range c.Jira.Queries {
		if strings.TrimSpace(q) == "" {
			errs = append(errs, fmt.Errorf("jira.queries.%s must not be empty", name))
		}
	}

	o := c.Orchestration
	if o.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("orchestration.retry.max_retries must be >= 0"))
	}
	if o.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("orchestration.retry.multiplier must be >= 1"))
	}
	if o.BuildWait.PollInterval.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("orchestration.build_wait.poll_interval must be > 0"))
	}
	if o.BuildWait.MaxWait < o.BuildWait.PollInterval {
		errs = append(errs, fmt.Errorf("orchestration.build_wait.max_wait (%s) must be >= poll_interval (%s)",
			o.BuildWait.MaxWait.Duration(), o.BuildWait.PollInterval.Duration()))
	}

	if len(c.Deploy.Environments) == 0 {
		errs = append(errs, fmt.Errorf("deploy.environments must not be empty"))
	}
	found := false
	for _, env := range c.Deploy.Environments {
		if env == c.Deploy.VerifyEnvironment {
			found = true
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("deploy.verify_environment %q is not in deploy.environments", c.Deploy.VerifyEnvironment))
	}

	for name, tr := range c.Jira.Transitions {
		if tr.ID == "" {
			errs = append(errs, fmt.Errorf("jira.transitions.%s.id is required", name))
		}
		if tr.Status == "" {
			errs = append(errs, fmt.Errorf("jira.transitions.%s.status is required", name))
		}
	}

	return errors.Join(errs...)
}
