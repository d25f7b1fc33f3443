package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/services"
	"github.com/fyrsmithlabs/qaflow/internal/workflow"
)

// defaultRecentBuilds matches what an agent can usefully read at once.
const defaultRecentBuilds = 5

// toolHandler returns the structured result, a one-line summary and an error.
type toolHandler[In any] func(ctx context.Context, in In) (any, string, error)

// addTool registers a tool with metrics, logging and error formatting.
func addTool[In any](s *Server, meta ToolMetadata, handler toolHandler[In]) {
	s.toolRegistry.Register(&meta)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        meta.Name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, meta.Name)
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, meta.Name)
			s.metrics.RecordInvocation(ctx, meta.Name, time.Since(start), toolErr)
		}()

		out, summary, err := handler(ctx, in)
		if err != nil {
			toolErr = err
			s.logger.Warn(ctx, "tool failed",
				zap.String("tool", meta.Name),
				zap.String("kind", string(qa.KindOf(err))),
				zap.Error(err),
			)
			return nil, nil, toolError(err)
		}

		text := summary
		if out != nil {
			body, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				toolErr = err
				return nil, nil, fmt.Errorf("encode result: %w", err)
			}
			text += "\n\n" + string(body)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})
}

// toolError formats err for the agent. A partially applied workflow carries
// its step report so the agent can see what changed.
func toolError(err error) error {
	msg := qa.Describe(err)
	var partial *workflow.PartialFailureError
	if errors.As(err, &partial) {
		if body, jerr := json.MarshalIndent(partial.Report, "", "  "); jerr == nil {
			msg += "\n\n" + string(body)
		}
	}
	return errors.New(msg)
}

type ticketInput struct {
	TicketKey string `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
}

type findTicketsInput struct {
	Query   string `json:"query" jsonschema:"Named search: ready_for_qa, in_progress, my_validations or a configured query"`
	Project string `json:"project,omitempty" jsonschema:"Project key (default: configured project)"`
	User    string `json:"user,omitempty" jsonschema:"User for my_validations (default: configured Jira user)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum tickets to return (default: 20, at most 100)"`
}

type claimInput struct {
	TicketKey string `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
	Validator string `json:"validator" jsonschema:"User who performs the QA validation"`
}

type resolvePassInput struct {
	TicketKey string `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
	Comment   string `json:"comment" jsonschema:"QA comment posted on the ticket"`
}

type resolveFailInput struct {
	TicketKey string `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
	BugReport string `json:"bug_report" jsonschema:"Bug report posted on the ticket"`
}

type verifyInput struct {
	TicketKey    string `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
	Environment  string `json:"environment,omitempty" jsonschema:"Environment to verify (default: configured verify environment)"`
	RequireBuild *bool  `json:"require_build,omitempty" jsonschema:"Require a successful build (default: configured)"`
	Summary      string `json:"summary,omitempty" jsonschema:"Extra text for the pass comment"`
}

type waitInput struct {
	BuildID             string `json:"build_id" jsonschema:"CI build id such as team/api#42"`
	ChangeID            string `json:"change_id,omitempty" jsonschema:"Pull request to annotate with the result, such as org/api#7"`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty" jsonschema:"Seconds between polls (default: configured)"`
	MaxWaitSeconds      int    `json:"max_wait_seconds,omitempty" jsonschema:"Give up after this many seconds (default: configured)"`
}

type findChangesInput struct {
	TicketKey    string   `json:"ticket_key" jsonschema:"Ticket key such as PROJ-123"`
	Repositories []string `json:"repositories,omitempty" jsonschema:"Only consider these owner/repo repositories"`
}

type compareInput struct {
	Artifact     string   `json:"artifact" jsonschema:"Deployed artifact, usually owner/repo"`
	Environments []string `json:"environments,omitempty" jsonschema:"Environments to compare (default: configured)"`
}

type recentBuildsInput struct {
	Job   string `json:"job" jsonschema:"Named job, repository or job path"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum builds to return (default: 5)"`
}

type triggerInput struct {
	ChangeID    string            `json:"change_id,omitempty" jsonschema:"Pull request whose branch is tested, such as org/api#7"`
	Branch      string            `json:"branch,omitempty" jsonschema:"Branch to test when no change_id is given"`
	Job         string            `json:"job,omitempty" jsonschema:"Named job or job path (default: e2e)"`
	Environment string            `json:"environment,omitempty" jsonschema:"Target environment passed to the job"`
	Parameters  map[string]string `json:"parameters,omitempty" jsonschema:"Extra job parameters"`
}

type commitInput struct {
	Repository string `json:"repository" jsonschema:"Repository as owner/repo"`
	SHA        string `json:"sha" jsonschema:"Commit SHA"`
}

type notifyInput struct {
	Room    string `json:"room,omitempty" jsonschema:"Room id (default: configured room)"`
	Message string `json:"message" jsonschema:"Markdown message"`
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (s *Server) registerTools() {
	s.registerTicketTools()
	s.registerCodeHostTools()
	s.registerCITools()
	s.registerDeployTools()
	s.registerChatTools()
}

func (s *Server) registerTicketTools() {
	addTool(s, ToolMetadata{
		Name:        "qa_get_ticket_context",
		Description: "Get a ticket with its linked pull requests, deployment state per environment, latest build and QA readiness",
		Category:    CategoryTicket,
	}, func(ctx context.Context, in ticketInput) (any, string, error) {
		snap, err := s.svc.GetContext(ctx, in.TicketKey)
		if err != nil {
			return nil, "", err
		}
		summary := fmt.Sprintf("%s: %s", snap.Ticket.Key, snap.Readiness)
		if len(snap.Errors) > 0 {
			summary += fmt.Sprintf(" (%d sources failed)", len(snap.Errors))
		}
		return snap, summary, nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_find_tickets",
		Description: "List tickets from a QA queue such as ready_for_qa, in_progress or my_validations",
		Category:    CategoryTicket,
	}, func(ctx context.Context, in findTicketsInput) (any, string, error) {
		list, err := s.svc.FindTickets(ctx, services.TicketQuery{
			Query:   in.Query,
			Project: in.Project,
			User:    in.User,
			Limit:   in.Limit,
		})
		if err != nil {
			return nil, "", err
		}
		return list, fmt.Sprintf("%d tickets in %s", list.Count, list.Query), nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_claim_ticket",
		Description: "Assign a ticket to the validator, mark the test result in progress and move it into QA",
		Category:    CategoryTicket,
		Mutates:     true,
	}, func(ctx context.Context, in claimInput) (any, string, error) {
		report, err := s.svc.Claim(ctx, in.TicketKey, in.Validator)
		if err != nil {
			return nil, "", err
		}
		return report, fmt.Sprintf("%s claimed by %s", in.TicketKey, in.Validator), nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_resolve_pass",
		Description: "Post a QA pass comment, set the test result to pass and resolve the ticket",
		Category:    CategoryTicket,
		Mutates:     true,
	}, func(ctx context.Context, in resolvePassInput) (any, string, error) {
		report, err := s.svc.ResolvePass(ctx, in.TicketKey, in.Comment)
		if err != nil {
			return nil, "", err
		}
		return report, in.TicketKey + " resolved as passed", nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_fail_ticket",
		Description: "Post a bug report, set the test result to fail and reopen the ticket",
		Category:    CategoryTicket,
		Mutates:     true,
	}, func(ctx context.Context, in resolveFailInput) (any, string, error) {
		report, err := s.svc.ResolveFail(ctx, in.TicketKey, in.BugReport)
		if err != nil {
			return nil, "", err
		}
		return report, in.TicketKey + " reopened as failed", nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_verify_and_resolve",
		Description: "Check that the linked change is merged, deployed and built, then resolve the ticket as passed or failed. Leaves the ticket untouched when the evidence is inconclusive",
		Category:    CategoryTicket,
		Mutates:     true,
	}, func(ctx context.Context, in verifyInput) (any, string, error) {
		res, err := s.svc.Verify(ctx, in.TicketKey, workflow.VerifyOptions{
			Environment:  in.Environment,
			RequireBuild: in.RequireBuild,
			Summary:      in.Summary,
		})
		if err != nil {
			return nil, "", err
		}
		summary := fmt.Sprintf("%s verified in %s: %s", in.TicketKey, res.Environment, res.Verdict)
		if len(res.Reasons) > 0 {
			summary += " (" + strings.Join(res.Reasons, "; ") + ")"
		}
		return res, summary, nil
	})
}

func (s *Server) registerCodeHostTools() {
	addTool(s, ToolMetadata{
		Name:        "qa_find_prs_for_ticket",
		Description: "Find the pull requests linked to a ticket by branch name, title or commit message",
		Category:    CategoryCodeHost,
	}, func(ctx context.Context, in findChangesInput) (any, string, error) {
		res, err := s.svc.FindChanges(ctx, in.TicketKey, in.Repositories)
		if err != nil {
			return nil, "", err
		}
		if !res.Linked() {
			return res, "No linked pull requests for " + in.TicketKey, nil
		}
		return res, fmt.Sprintf("%d pull requests matched by %s", len(res.Changes), res.Rule), nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_find_pr_for_commit",
		Description: "Find the pull request a commit was merged with",
		Category:    CategoryCodeHost,
	}, func(ctx context.Context, in commitInput) (any, string, error) {
		change, err := s.svc.FindChangeForCommit(ctx, in.Repository, in.SHA)
		if err != nil {
			return nil, "", err
		}
		return change, fmt.Sprintf("%s: %s", change.ID, change.Title), nil
	})
}

func (s *Server) registerCITools() {
	addTool(s, ToolMetadata{
		Name:        "qa_wait_for_build",
		Description: "Wait for a CI build to finish and optionally record the result in the pull request description",
		Category:    CategoryCI,
	}, func(ctx context.Context, in waitInput) (any, string, error) {
		out, err := s.svc.WaitForBuild(ctx, buildwait.Request{
			BuildID:      in.BuildID,
			ChangeID:     in.ChangeID,
			PollInterval: seconds(in.PollIntervalSeconds),
			MaxWait:      seconds(in.MaxWaitSeconds),
		})
		if err != nil {
			return nil, "", err
		}
		return out, fmt.Sprintf("%s finished: %s after %d polls", out.BuildID, out.State, out.Polls), nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_get_recent_builds",
		Description: "List the most recent builds of a CI job",
		Category:    CategoryCI,
	}, func(ctx context.Context, in recentBuildsInput) (any, string, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = defaultRecentBuilds
		}
		runs, err := s.svc.RecentBuilds(ctx, in.Job, limit)
		if err != nil {
			return nil, "", err
		}
		return map[string]any{"job": in.Job, "builds": runs}, fmt.Sprintf("%d builds", len(runs)), nil
	})

	addTool(s, ToolMetadata{
		Name:        "qa_trigger_e2e_tests",
		Description: "Trigger the e2e test job for a pull request's branch",
		Category:    CategoryCI,
		Mutates:     true,
	}, func(ctx context.Context, in triggerInput) (any, string, error) {
		res, err := s.svc.TriggerE2E(ctx, services.TriggerRequest{
			ChangeID:    in.ChangeID,
			Branch:      in.Branch,
			Job:         in.Job,
			Environment: in.Environment,
			Parameters:  in.Parameters,
		})
		if err != nil {
			return nil, "", err
		}
		return res, fmt.Sprintf("Triggered %s on %s: %s", res.Job, res.Branch, res.Build.ID), nil
	})
}

func (s *Server) registerDeployTools() {
	addTool(s, ToolMetadata{
		Name:        "qa_compare_environments",
		Description: "Compare when an artifact was last deployed to each environment",
		Category:    CategoryDeploy,
	}, func(ctx context.Context, in compareInput) (any, string, error) {
		cmp, err := s.svc.CompareEnvironments(ctx, in.Artifact, in.Environments)
		if err != nil {
			return nil, "", err
		}
		summary := in.Artifact + " is deployed consistently"
		switch {
		case len(cmp.Markers()) == 0:
			summary = "No deployment markers found for " + in.Artifact
		case !cmp.Consistent:
			summary = fmt.Sprintf("%s differs: latest in %s, oldest in %s", in.Artifact, cmp.Latest, cmp.Oldest)
		}
		return cmp, summary, nil
	})
}

func (s *Server) registerChatTools() {
	addTool(s, ToolMetadata{
		Name:        "qa_notify",
		Description: "Post a markdown message to the QA chat room",
		Category:    CategoryChat,
		Mutates:     true,
	}, func(ctx context.Context, in notifyInput) (any, string, error) {
		if err := s.svc.Notify(ctx, in.Room, in.Message); err != nil {
			return nil, "", err
		}
		return nil, "Message posted", nil
	})
}
