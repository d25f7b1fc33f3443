package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/deploy"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// DefaultE2EJob is the Jobs entry TriggerE2E uses when no job is named.
const DefaultE2EJob = "e2e"

// Service runs QA actions for every surface.
type Service struct {
	reg      Registry
	settings Settings
	logger   *logging.Logger
}

// New creates a Service. A nil logger logs nothing.
func New(reg Registry, s Settings, logger *logging.Logger) *Service {
	s.Policy.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{reg: reg, settings: s, logger: logger}
}

// Registry returns the underlying registry.
func (s *Service) Registry() Registry { return s.reg }

// Settings returns the orchestration settings.
func (s *Service) Settings() Settings { return s.settings }

// begin attaches the logger, a request id and the operation to ctx. An
// inbound request id is kept.
func (s *Service) begin(ctx context.Context, op, key string) context.Context {
	ctx = logging.WithLogger(ctx, s.logger)
	if logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.WithRequestID(ctx, uuid.NewString())
	}
	ctx = logging.WithOperation(ctx, op)
	if key != "" {
		ctx = logging.WithTicketKey(ctx, key)
	}
	return ctx
}

func observe[T any](ctx context.Context, s *Service, op, key string, fn func(context.Context) (T, error)) (T, error) {
	ctx = s.begin(ctx, op, key)
	start := time.Now()

	out, err := fn(ctx)

	log := logging.FromContext(ctx)
	elapsed := zap.Duration("duration", time.Since(start))
	if err != nil {
		log.Warn(ctx, "operation failed",
			elapsed,
			zap.String("kind", string(qa.KindOf(err))),
			zap.Error(err),
		)
		return out, err
	}
	log.Info(ctx, "operation completed", elapsed)
	return out, nil
}

// scrub redacts credentials from text about to leave qaflow.
func (s *Service) scrub(ctx context.Context, field, text string) string {
	res := s.settings.Scrubber.Scrub(text)
	if res.Redacted() {
		logging.FromContext(ctx).Warn(ctx, "redacted credentials from outbound text",
			zap.String("field", field),
			zap.Int("count", len(res.Findings)),
			zap.Strings("rules", res.RuleIDs()),
		)
	}
	return res.Text
}

// GetContext returns the context snapshot for a ticket.
func (s *Service) GetContext(ctx context.Context, key string) (*qa.ContextSnapshot, error) {
	return observe(ctx, s, "get_context", key, func(ctx context.Context) (*qa.ContextSnapshot, error) {
		return s.reg.Aggregator().GetContext(ctx, key)
	})
}

// Claim assigns the ticket to validator and moves it into QA.
func (s *Service) Claim(ctx context.Context, key, validator string) (workflow.Report, error) {
	return observe(ctx, s, "claim", key, func(ctx context.Context) (workflow.Report, error) {
		return s.reg.Workflow().Claim(ctx, key, validator)
	})
}

// ResolvePass records a passing result and resolves the ticket.
func (s *Service) ResolvePass(ctx context.Context, key, comment string) (workflow.Report, error) {
	return observe(ctx, s, "resolve_pass", key, func(ctx context.Context) (workflow.Report, error) {
		return s.reg.Workflow().ResolvePass(ctx, key, s.scrub(ctx, "comment", comment))
	})
}

// ResolveFail records a failing result and reopens the ticket.
func (s *Service) ResolveFail(ctx context.Context, key, bugReport string) (workflow.Report, error) {
	return observe(ctx, s, "resolve_fail", key, func(ctx context.Context) (workflow.Report, error) {
		return s.reg.Workflow().ResolveFail(ctx, key, s.scrub(ctx, "bug_report", bugReport))
	})
}

// Verify checks deployment and build state and resolves the ticket when the
// verdict is conclusive.
func (s *Service) Verify(ctx context.Context, key string, opts workflow.VerifyOptions) (workflow.VerifyResult, error) {
	return observe(ctx, s, "verify_and_resolve", key, func(ctx context.Context) (workflow.VerifyResult, error) {
		opts.Summary = s.scrub(ctx, "summary", opts.Summary)
		return s.reg.Workflow().VerifyAndResolve(ctx, key, opts)
	})
}

// WaitForBuild polls a build until it finishes.
func (s *Service) WaitForBuild(ctx context.Context, req buildwait.Request) (buildwait.Outcome, error) {
	return observe(ctx, s, "wait_for_build", "", func(ctx context.Context) (buildwait.Outcome, error) {
		return s.reg.Waiter().Wait(ctx, req)
	})
}

// FindChanges lists the code changes linked to a ticket, optionally limited to
// repositories.
func (s *Service) FindChanges(ctx context.Context, key string, repositories []string) (correlate.Result, error) {
	return observe(ctx, s, "find_changes", key, func(ctx context.Context) (correlate.Result, error) {
		return s.reg.Correlator().Correlate(ctx, key, repositories)
	})
}

// CompareEnvironments compares an artifact's deployment markers. With no
// environments the configured set is used.
func (s *Service) CompareEnvironments(ctx context.Context, artifactID string, environments []string) (deploy.Comparison, error) {
	return observe(ctx, s, "compare_environments", "", func(ctx context.Context) (deploy.Comparison, error) {
		if artifactID == "" {
			return deploy.Comparison{}, qa.InvalidInput("compare_environments", "artifact is required")
		}
		if len(environments) == 0 {
			environments = s.settings.Environments
		}
		return s.reg.Comparator().Compare(ctx, artifactID, environments)
	})
}

// ResolveJob maps a job name to a CI job path. Named jobs are looked up
// first, then repository jobs; anything else is taken as a path.
func (s *Service) ResolveJob(name string) string {
	if path, ok := s.settings.Jobs[name]; ok {
		return path
	}
	if path, ok := s.settings.RepoJobs[name]; ok {
		return path
	}
	return name
}

// RecentBuilds lists the latest builds of a job, newest first. limit <= 0
// returns everything the CI server reports.
func (s *Service) RecentBuilds(ctx context.Context, job string, limit int) ([]qa.BuildRun, error) {
	return observe(ctx, s, "recent_builds", "", func(ctx context.Context) ([]qa.BuildRun, error) {
		path := s.ResolveJob(job)
		if path == "" {
			return nil, qa.InvalidInput("recent_builds", "job is required")
		}
		runs, err := resilience.Call(ctx, s.settings.Policy, "ci.list_recent", func(ctx context.Context) ([]qa.BuildRun, error) {
			return s.reg.Builds().ListRecent(ctx, path)
		})
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}
		return runs, nil
	})
}

// TriggerRequest describes an e2e run.
type TriggerRequest struct {
	// ChangeID supplies the branch when Branch is empty.
	ChangeID string `json:"change_id,omitempty"`
	Branch   string `json:"branch,omitempty"`

	// Job is a named job or a job path. Empty selects DefaultE2EJob.
	Job string `json:"job,omitempty"`

	Environment string            `json:"environment,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// TriggerResult is the queued run and what it was started with.
type TriggerResult struct {
	Job    string       `json:"job"`
	Branch string       `json:"branch"`
	Build  *qa.BuildRun `json:"build"`
}

// TriggerE2E starts the e2e job for a change's branch. Triggering is not
// idempotent, so it is never retried.
func (s *Service) TriggerE2E(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	return observe(ctx, s, "trigger_e2e", "", func(ctx context.Context) (TriggerResult, error) {
		name := req.Job
		if name == "" {
			name = DefaultE2EJob
			if _, ok := s.settings.Jobs[name]; !ok {
				return TriggerResult{}, qa.InvalidInput("trigger_e2e", "no %q job configured", name)
			}
		}
		job := s.ResolveJob(name)

		branch := req.Branch
		if branch == "" {
			if req.ChangeID == "" {
				return TriggerResult{}, qa.InvalidInput("trigger_e2e", "a change id or branch is required")
			}
			change, err := resilience.Call(ctx, s.settings.Policy, "codehost.get_change", func(ctx context.Context) (*qa.CodeChange, error) {
				return s.reg.CodeHost().GetChange(ctx, req.ChangeID)
			})
			if err != nil {
				return TriggerResult{}, err
			}
			if change.Branch == "" {
				return TriggerResult{}, qa.InvalidInput("trigger_e2e", "change %s has no branch", req.ChangeID)
			}
			branch = change.Branch
		}

		params := make(map[string]string, len(req.Parameters)+2)
		for k, v := range req.Parameters {
			params[k] = v
		}
		params[s.settings.BranchParameter] = branch
		if req.Environment != "" {
			params["ENVIRONMENT"] = req.Environment
		}

		run, err := resilience.Call(ctx, s.settings.Policy.NoRetry(), "ci.trigger", func(ctx context.Context) (*qa.BuildRun, error) {
			return s.reg.Builds().Trigger(ctx, job, params)
		})
		if err != nil {
			return TriggerResult{}, err
		}
		logging.FromContext(ctx).Info(ctx, "triggered e2e run",
			zap.String("job", job),
			zap.String("branch", branch),
			zap.String("build_id", run.ID),
		)
		return TriggerResult{Job: job, Branch: branch, Build: run}, nil
	})
}

// changeFinder is implemented by code hosts that can look up the change
// containing a commit directly.
type changeFinder interface {
	FindChangeForCommit(ctx context.Context, repository, sha string) (*qa.CodeChange, error)
}

var changeNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Merge pull request #(\d+)\b`),
	regexp.MustCompile(`\(#(\d+)\)\s*$`),
}

// changeNumber extracts the change number from a merge or squash commit
// subject.
func changeNumber(message string) (int, bool) {
	subject, _, _ := strings.Cut(message, "\n")
	subject = strings.TrimSpace(subject)
	for _, p := range changeNumberPatterns {
		if m := p.FindStringSubmatch(subject); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil && n > 0
		}
	}
	return 0, false
}

// FindChangeForCommit returns the change a commit landed with. Merge and
// squash commits name their change in the subject; other commits are looked
// up through the code host when it supports that.
func (s *Service) FindChangeForCommit(ctx context.Context, repository, sha string) (*qa.CodeChange, error) {
	return observe(ctx, s, "find_change_for_commit", "", func(ctx context.Context) (*qa.CodeChange, error) {
		if repository == "" || sha == "" {
			return nil, qa.InvalidInput("find_change_for_commit", "repository and sha are required")
		}
		codehost := s.reg.CodeHost()

		commit, err := resilience.Call(ctx, s.settings.Policy, "codehost.get_commit", func(ctx context.Context) (*qa.Commit, error) {
			return codehost.GetCommit(ctx, repository+"@"+sha)
		})
		if err != nil {
			return nil, err
		}

		if n, ok := changeNumber(commit.Message); ok {
			id := repository + "#" + strconv.Itoa(n)
			change, err := resilience.Call(ctx, s.settings.Policy, "codehost.get_change", func(ctx context.Context) (*qa.CodeChange, error) {
				return codehost.GetChange(ctx, id)
			})
			if err == nil || qa.KindOf(err) != qa.KindNotFound {
				return change, err
			}
		}

		finder, ok := codehost.(changeFinder)
		if !ok {
			return nil, qa.NotFound("find_change_for_commit", nil, repository+"@"+sha)
		}
		return resilience.Call(ctx, s.settings.Policy, "codehost.find_change_for_commit", func(ctx context.Context) (*qa.CodeChange, error) {
			return finder.FindChangeForCommit(ctx, repository, sha)
		})
	})
}

// Notify posts markdown to a chat room, the configured one when room is
// empty.
func (s *Service) Notify(ctx context.Context, room, markdown string) error {
	_, err := observe(ctx, s, "notify", "", func(ctx context.Context) (struct{}, error) {
		chat := s.reg.Chat()
		if chat == nil {
			return struct{}{}, qa.InvalidInput("notify", "chat is not configured")
		}
		if room == "" {
			room = s.settings.NotifyRoom
		}
		if room == "" {
			return struct{}{}, qa.InvalidInput("notify", "room is required")
		}
		if strings.TrimSpace(markdown) == "" {
			return struct{}{}, qa.InvalidInput("notify", "message is required")
		}
		markdown = s.scrub(ctx, "message", markdown)
		return struct{}{}, resilience.Do(ctx, s.settings.Policy.NoRetry(), "chat.post_message", func(ctx context.Context) error {
			return chat.PostMessage(ctx, room, markdown)
		})
	})
	return err
}
