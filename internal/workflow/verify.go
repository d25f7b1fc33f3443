package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/qaflow/internal/aggregate"
	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

// Verdict is the decision VerifyAndResolve reaches.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// VerifyOptions tune one verification.
type VerifyOptions struct {
	// Environment overrides the configured verify environment.
	Environment string

	// RequireBuild overrides the configured build requirement.
	RequireBuild *bool

	// Summary is appended to the pass comment.
	Summary string
}

// VerifyResult is the outcome of VerifyAndResolve.
type VerifyResult struct {
	Verdict     Verdict             `json:"verdict"`
	Reasons     []string            `json:"reasons,omitempty"`
	Environment string              `json:"environment"`
	Snapshot    *qa.ContextSnapshot `json:"snapshot,omitempty"`
	Report      *Report             `json:"report,omitempty"`
	Notified    bool                `json:"notified"`
	NotifyError string              `json:"notify_error,omitempty"`
}

// VerifyAndResolve confirms the linked change is deployed and resolves the
// ticket accordingly. Ambiguous evidence returns an *InconclusiveError and
// the ticket is not touched.
func (w *Workflow) VerifyAndResolve(ctx context.Context, key string, opts VerifyOptions) (VerifyResult, error) {
	if err := correlate.ValidateKey(key); err != nil {
		return VerifyResult{}, err
	}
	if w.context == nil {
		return VerifyResult{}, fmt.Errorf("verify_and_resolve requires a context source")
	}

	env := opts.Environment
	if env == "" {
		env = w.cfg.VerifyEnvironment
	}
	requireBuild := w.cfg.RequireBuild
	if opts.RequireBuild != nil {
		requireBuild = *opts.RequireBuild
	}

	ctx = logging.WithOperation(logging.WithTicketKey(ctx, key), "verify_and_resolve")
	logger := logging.FromContext(ctx)

	snap, err := w.context.GetContext(ctx, key)
	if err != nil {
		return VerifyResult{Environment: env}, err
	}

	verdict, reasons := decide(snap, env, requireBuild)
	result := VerifyResult{Verdict: verdict, Reasons: reasons, Environment: env, Snapshot: snap}
	verdictCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", string(verdict))))

	logger.Info(ctx, "verification decided",
		zap.String("verdict", string(verdict)),
		zap.String("environment", env),
		zap.Strings("reasons", reasons),
	)

	var (
		report Report
		opErr  error
	)
	switch verdict {
	case VerdictInconclusive:
		return result, &InconclusiveError{TicketKey: key, Reasons: reasons}

	case VerdictPass:
		comment, err := RenderPass(passComment(snap, env, opts.Summary))
		if err != nil {
			return result, err
		}
		report, opErr = w.ResolvePass(ctx, key, comment)

	case VerdictFail:
		comment, err := RenderFail(failComment(snap, env))
		if err != nil {
			return result, err
		}
		report, opErr = w.ResolveFail(ctx, key, comment)
	}

	result.Report = &report
	if opErr == nil {
		w.notify(ctx, &result, key)
	}
	return result, opErr
}

// decide maps a snapshot to a verdict. Any doubt is inconclusive.
func decide(snap *qa.ContextSnapshot, env string, requireBuild bool) (Verdict, []string) {
	var reasons []string

	change, linked := snap.PrimaryChange()
	if !linked {
		if e, ok := snap.ErrorFor(aggregate.SourceCodeHost); ok {
			return VerdictInconclusive, []string{"code host unavailable: " + e.Message}
		}
		return VerdictInconclusive, []string{"no linked change found"}
	}
	if !change.Merged() {
		return VerdictInconclusive, []string{fmt.Sprintf("change %s is not merged", change.ID)}
	}

	marker, deployed := snap.Deployment[env]
	switch {
	case !deployed:
		if e, ok := snap.ErrorFor(aggregate.DeploySource(env)); ok {
			reasons = append(reasons, fmt.Sprintf("deployment in %s could not be read: %s", env, e.Message))
		} else if e, ok := snap.ErrorFor(aggregate.SourceDeploy); ok {
			reasons = append(reasons, fmt.Sprintf("deployments could not be compared: %s", e.Message))
		} else {
			reasons = append(reasons, fmt.Sprintf("no deployment marker for %s", env))
		}
	case !snap.DeployedAfterMerge[env]:
		reasons = append(reasons, fmt.Sprintf("%s last deployed at %s, before merge at %s",
			env, marker.LastModified.UTC().Format(time.RFC3339), change.MergedAt.UTC().Format(time.RFC3339)))
	}

	build := snap.BuildStatus
	if requireBuild {
		switch {
		case build == nil:
			if e, ok := snap.ErrorFor(aggregate.SourceBuild); ok {
				reasons = append(reasons, "build status unavailable: "+e.Message)
			} else {
				reasons = append(reasons, fmt.Sprintf("no build found for branch %s", change.Branch))
			}
		case !build.Status.Terminal():
			reasons = append(reasons, fmt.Sprintf("build %s is still %s", build.ID, build.Status))
		case build.Status == qa.BuildAborted:
			reasons = append(reasons, fmt.Sprintf("build %s was aborted", build.ID))
		}
	}

	if len(reasons) > 0 {
		return VerdictInconclusive, reasons
	}
	if build != nil && build.Status == qa.BuildFailure {
		return VerdictFail, nil
	}
	return VerdictPass, nil
}

func passComment(snap *qa.ContextSnapshot, env, summary string) PassComment {
	change, _ := snap.PrimaryChange()
	marker := snap.Deployment[env]

	steps := []string{
		fmt.Sprintf("Change %s (%s) merged at %s", change.ID, change.Title, change.MergedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("%s deployed at %s", env, marker.LastModified.UTC().Format(time.RFC3339)),
	}
	if b := snap.BuildStatus; b != nil {
		steps = append(steps, fmt.Sprintf("Build %s finished with %s", b.ID, b.Status))
	}
	if summary == "" {
		summary = "Change verified as deployed"
	}
	return PassComment{Environment: env, Summary: summary, Steps: steps}
}

func failComment(snap *qa.ContextSnapshot, env string) FailComment {
	change, _ := snap.PrimaryChange()
	b := snap.BuildStatus

	ref := b.ID
	if b.URL != "" {
		ref = fmt.Sprintf("[%s|%s]", b.ID, b.URL)
	}
	return FailComment{
		Environment: env,
		Description: fmt.Sprintf("Build %s for change %s (%s) failed.", b.ID, change.ID, change.Title),
		Steps:       []string{"Open the build " + ref, "Review the failing stages"},
		Expected:    "Build succeeds",
		Actual:      "Build finished with " + string(b.Status),
		BuildRef:    ref,
	}
}

// notify posts the verdict to the configured chat room. Failures are logged
// and recorded on the result only.
func (w *Workflow) notify(ctx context.Context, result *VerifyResult, key string) {
	if w.chat == nil || w.cfg.NotifyRoom == "" {
		return
	}
	msg := fmt.Sprintf("**%s** QA verification: **%s** in %s", key, result.Verdict, result.Environment)
	if t := result.Snapshot; t != nil && t.Ticket.URL != "" {
		msg += fmt.Sprintf(" ([ticket](%s))", t.Ticket.URL)
	}

	err := resilience.Do(ctx, w.cfg.Policy.NoRetry(), "chat.post_message", func(ctx context.Context) error {
		return w.chat.PostMessage(ctx, w.cfg.NotifyRoom, msg)
	})
	if err != nil {
		result.NotifyError = err.Error()
		logging.FromContext(ctx).Warn(ctx, "failed to post verification notice",
			zap.String("room", w.cfg.NotifyRoom),
			zap.String("severity", string(qa.SeverityLow)),
			zap.Error(err),
		)
		return
	}
	result.Notified = true
}
