// Package workflow sequences multi-step ticket mutations.
//
// Steps run in a fixed order. Nothing is rolled back: when a step fails the
// remaining steps are not attempted and the returned *PartialFailureError
// names what was applied and what was not. Steps whose effect is already
// visible on the ticket are reported as already_applied instead of being
// repeated, so retrying an operation converges on the same ticket state.
package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

const instrumentationName = "github.com/fyrsmithlabs/qaflow/internal/workflow"

// Transition names.
const (
	TransitionClaim   = "claim"
	TransitionResolve = "resolve"
	TransitionReopen  = "reopen"
)

// Transition is a tracker transition and the status it leads to.
type Transition struct {
	ID     string
	Status string
}

// ContextSource produces ticket context snapshots.
type ContextSource interface {
	GetContext(ctx context.Context, key string) (*qa.ContextSnapshot, error)
}

// Config holds workflow settings.
type Config struct {
	// Transitions maps claim, resolve and reopen to tracker transitions.
	// A missing entry, or one without a target status, skips the step.
	Transitions map[string]Transition

	// Fields lists the semantic fields the tracker can set. Steps writing
	// other fields are skipped. Nil allows every field.
	Fields map[string]bool

	// VerifyEnvironment is the environment VerifyAndResolve checks by default.
	VerifyEnvironment string

	// RequireBuild makes VerifyAndResolve insist on a finished build.
	RequireBuild bool

	// NotifyRoom receives a chat message after VerifyAndResolve resolves a
	// ticket. Empty disables notifications.
	NotifyRoom string

	Policy resilience.Policy
}

// Workflow runs ticket operations.
type Workflow struct {
	tickets qa.TicketPort
	context ContextSource
	chat    qa.ChatPort
	cfg     Config
}

// New creates a Workflow. contextSource and chat may be nil; VerifyAndResolve
// requires a context source.
func New(tickets qa.TicketPort, contextSource ContextSource, chat qa.ChatPort, cfg Config) *Workflow {
	cfg.Policy.ApplyDefaults()
	return &Workflow{
		tickets: tickets,
		context: contextSource,
		chat:    chat,
		cfg:     cfg,
	}
}

// step is one mutation of a multi-step operation.
type step struct {
	name string

	// skip marks the step as unconfigured.
	skip bool

	// applied reports whether the ticket already shows the step's effect.
	applied func(t *qa.TicketRef) bool

	// fresh re-reads the ticket before the applied check and after a
	// failure, for steps whose effect may have changed since the first read.
	fresh bool

	// once runs the mutation without retry.
	once bool

	run func(ctx context.Context) error
}

func (w *Workflow) fieldSupported(name string) bool {
	return w.cfg.Fields == nil || w.cfg.Fields[name]
}

// transition returns the named transition. An entry without a target status
// counts as unconfigured: its effect could never be recognised on a re-read.
func (w *Workflow) transition(name string) (Transition, bool) {
	tr, ok := w.cfg.Transitions[name]
	return tr, ok && tr.ID != "" && tr.Status != ""
}

func (w *Workflow) fieldStep(name, key, field, value string, applied func(t *qa.TicketRef) bool) step {
	return step{
		name:    name,
		skip:    !w.fieldSupported(field),
		applied: applied,
		run: func(ctx context.Context) error {
			return w.tickets.SetFields(ctx, key, map[string]any{field: value})
		},
	}
}

func (w *Workflow) transitionStep(key, name string) step {
	tr, ok := w.transition(name)
	return step{
		name:  "transition_" + name,
		skip:  !ok,
		fresh: true,
		applied: func(t *qa.TicketRef) bool {
			return ok && t.Status == tr.Status
		},
		run: func(ctx context.Context) error {
			return w.tickets.Transition(ctx, key, tr.ID)
		},
	}
}

func (w *Workflow) getTicket(ctx context.Context, key string) (*qa.TicketRef, error) {
	return resilience.Call(ctx, w.cfg.Policy, "tracker.get", func(ctx context.Context) (*qa.TicketRef, error) {
		return w.tickets.Get(ctx, key)
	})
}

// execute runs steps in order against key.
func (w *Workflow) execute(ctx context.Context, op, key string, steps []step) (Report, error) {
	ctx = logging.WithOperation(logging.WithTicketKey(ctx, key), op)
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "workflow."+op,
		trace.WithAttributes(attribute.String("qa.ticket", key)))
	defer span.End()
	logger := logging.FromContext(ctx)

	report := Report{Operation: op, TicketKey: key, Steps: make([]StepResult, len(steps))}
	for i, s := range steps {
		report.Steps[i] = StepResult{Name: s.name, Status: StepNotAttempted}
	}

	ticket, err := w.getTicket(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ticket fetch failed")
		return report, err
	}

	for i, s := range steps {
		res := &report.Steps[i]

		if s.skip {
			res.Status = StepSkipped
			recordStep(ctx, op, res)
			continue
		}

		if s.fresh {
			if t, err := w.getTicket(ctx, key); err == nil {
				ticket = t
			}
		}
		if s.applied != nil && s.applied(ticket) {
			res.Status = StepAlreadyApplied
			recordStep(ctx, op, res)
			continue
		}

		policy := w.cfg.Policy
		if s.once {
			policy = policy.NoRetry()
		}
		err := resilience.Do(ctx, policy, "workflow."+s.name, s.run)

		if err != nil && s.fresh && s.applied != nil && ctx.Err() == nil {
			if t, rerr := w.getTicket(ctx, key); rerr == nil && s.applied(t) {
				ticket = t
				logger.Info(ctx, "step failed but its effect is visible, treating as applied",
					zap.String("step", s.name), zap.Error(err))
				res.Status = StepAlreadyApplied
				recordStep(ctx, op, res)
				continue
			}
		}

		if err != nil {
			res.Status = StepFailed
			res.Error = err.Error()
			recordStep(ctx, op, res)

			perr := &PartialFailureError{Report: report, Step: s.name, Err: err}
			span.RecordError(perr)
			span.SetStatus(codes.Error, "step failed")
			logger.Warn(ctx, "workflow step failed, remaining steps not attempted",
				zap.String("step", s.name),
				zap.Strings("succeeded", report.Succeeded()),
				zap.Strings("not_attempted", report.NotAttempted()),
				zap.Error(err),
			)
			return report, perr
		}

		res.Status = StepSucceeded
		recordStep(ctx, op, res)
	}

	logger.Info(ctx, "workflow completed",
		zap.Strings("succeeded", report.Succeeded()),
		zap.Int("steps", len(report.Steps)),
	)
	return report, nil
}

func recordStep(ctx context.Context, op string, res *StepResult) {
	stepCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("step", res.Name),
		attribute.String("status", string(res.Status)),
	))
}

// Claim assigns the ticket to validator, records them as validator, marks the
// test result in progress and transitions the ticket into QA.
func (w *Workflow) Claim(ctx context.Context, key, validator string) (Report, error) {
	if err := correlate.ValidateKey(key); err != nil {
		return Report{}, err
	}
	if validator == "" {
		return Report{}, qa.InvalidInput("workflow.claim", "validator is required")
	}

	return w.execute(ctx, "claim", key, []step{
		w.fieldStep("assign", key, qa.FieldAssignee, validator,
			func(t *qa.TicketRef) bool { return t.Assignee == validator }),
		w.fieldStep("set_validator", key, qa.FieldValidator, validator,
			func(t *qa.TicketRef) bool { return t.Validator == validator }),
		w.fieldStep("set_test_result", key, qa.FieldTestResult, qa.TestResultInProgress,
			func(t *qa.TicketRef) bool { return t.TestResult == qa.TestResultInProgress }),
		w.transitionStep(key, TransitionClaim),
	})
}

// ResolvePass comments, resolves the ticket and records a passing test result.
func (w *Workflow) ResolvePass(ctx context.Context, key, comment string) (Report, error) {
	return w.resolve(ctx, "resolve_pass", key, comment, TransitionResolve, qa.TestResultPass)
}

// ResolveFail comments with the bug report, reopens the ticket and records a
// failing test result.
func (w *Workflow) ResolveFail(ctx context.Context, key, bugReport string) (Report, error) {
	return w.resolve(ctx, "resolve_fail", key, bugReport, TransitionReopen, qa.TestResultFail)
}

func (w *Workflow) resolve(ctx context.Context, op, key, comment, transition, result string) (Report, error) {
	if err := correlate.ValidateKey(key); err != nil {
		return Report{}, err
	}
	if comment == "" {
		return Report{}, qa.InvalidInput("workflow."+op, "comment is required")
	}

	tr, hasTransition := w.transition(transition)
	hasResult := w.fieldSupported(qa.FieldTestResult)

	// The comment counts as applied once the ticket is in the target status
	// with the target result; otherwise a second call would post it again.
	resolved := func(t *qa.TicketRef) bool {
		if !hasTransition && !hasResult {
			return false
		}
		if hasTransition && t.Status != tr.Status {
			return false
		}
		return !hasResult || t.TestResult == result
	}

	return w.execute(ctx, op, key, []step{
		{
			name:    "add_comment",
			applied: resolved,
			once:    true,
			run: func(ctx context.Context) error {
				return w.tickets.AddComment(ctx, key, comment)
			},
		},
		w.transitionStep(key, transition),
		w.fieldStep("set_test_result", key, qa.FieldTestResult, result,
			func(t *qa.TicketRef) bool { return t.TestResult == result }),
	})
}

// Describe summarises a report for logs and tool output.
func Describe(r Report) string {
	return fmt.Sprintf("%s %s: succeeded %v, failed %v, not attempted %v",
		r.Operation, r.TicketKey, r.Succeeded(), r.Failed(), r.NotAttempted())
}
