// Package aggregate builds a consistent context snapshot of one ticket from
// the tracker, code host, deployment target and CI.
//
// The ticket read is sequenced first because the other reads need its linked
// repositories. Failures of the later branches are captured into the
// snapshot's error list; only an invalid key, a failed ticket read or
// cancellation fail the whole call.
package aggregate

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/qaflow/internal/buildwait"
	"github.com/fyrsmithlabs/qaflow/internal/correlate"
	"github.com/fyrsmithlabs/qaflow/internal/deploy"
	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

const instrumentationName = "github.com/fyrsmithlabs/qaflow/internal/aggregate"

// Branch sources used in ContextSnapshot.Errors.
const (
	SourceCodeHost = "codehost"
	SourceBuild    = "build"
	SourceDeploy   = "deploy"
)

// DeploySource returns the error source for one environment.
func DeploySource(env string) string {
	return SourceDeploy + ":" + env
}

// Readiness verdicts.
const (
	ReadinessReady          = "Ready for QA - change merged and code deployed"
	ReadinessNotVerified    = "Change merged but deployment not verified"
	ReadinessNotMerged      = "Change found but not yet merged"
	ReadinessNoLinkedChange = "No linked change found"
)

// Config holds aggregation settings.
type Config struct {
	// Environments are compared for the primary change's repository.
	Environments []string

	// VerifyEnvironment decides readiness.
	VerifyEnvironment string

	// ClockSkew widens the deployed-after-merge check.
	ClockSkew time.Duration

	// RepoJobs maps a repository to the CI job that builds its branches.
	// Repositories without a job get no build branch.
	RepoJobs map[string]string

	Policy resilience.Policy
}

// Aggregator produces context snapshots.
type Aggregator struct {
	tickets    qa.TicketPort
	correlator *correlate.Correlator
	comparator *deploy.Comparator
	waiter     *buildwait.Waiter
	cfg        Config
}

// New creates an Aggregator.
func New(tickets qa.TicketPort, correlator *correlate.Correlator, comparator *deploy.Comparator, waiter *buildwait.Waiter, cfg Config) *Aggregator {
	cfg.Policy.ApplyDefaults()
	return &Aggregator{
		tickets:    tickets,
		correlator: correlator,
		comparator: comparator,
		waiter:     waiter,
		cfg:        cfg,
	}
}

// GetContext returns the snapshot for key.
func (a *Aggregator) GetContext(ctx context.Context, key string) (*qa.ContextSnapshot, error) {
	if err := correlate.ValidateKey(key); err != nil {
		return nil, err
	}

	ctx = logging.WithTicketKey(ctx, key)
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "aggregate.GetContext",
		trace.WithAttributes(attribute.String("qa.ticket", key)))
	defer span.End()

	ticket, err := resilience.Call(ctx, a.cfg.Policy, "tracker.get", func(ctx context.Context) (*qa.TicketRef, error) {
		return a.tickets.Get(ctx, key)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ticket fetch failed")
		return nil, err
	}

	snap := &qa.ContextSnapshot{
		Ticket:         *ticket,
		MatchedChanges: []qa.CodeChange{},
		Errors:         []qa.SourceError{},
	}

	var errs []qa.SourceError
	record := func(source string, err error) {
		errs = append(errs, qa.SourceError{Source: source, Kind: qa.KindOf(err), Message: err.Error()})
	}

	corr, err := a.correlator.Correlate(ctx, key, ticket.Repositories)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx, key)
		}
		record(SourceCodeHost, err)
	} else {
		snap.Linked = corr.Linked()
		snap.MatchRule = corr.Rule
		snap.MatchedChanges = corr.Changes
	}

	primary, linked := snap.PrimaryChange()
	if linked {
		var (
			cmp      deploy.Comparison
			cmpErr   error
			build    *qa.BuildRun
			buildErr error
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			cmp, cmpErr = a.deployments(gctx, primary)
			return nil
		})
		g.Go(func() error {
			build, buildErr = a.latestBuild(gctx, primary)
			return nil
		})
		_ = g.Wait()

		if ctx.Err() != nil {
			return nil, cancelled(ctx, key)
		}

		if cmpErr != nil {
			record(SourceDeploy, cmpErr)
		} else if cmp.Results != nil {
			snap.Deployment = cmp.Markers()
			for env, e := range cmp.Errors() {
				record(DeploySource(env), e)
			}
			if primary.Merged() {
				snap.DeployedAfterMerge = cmp.DeployedAfter(*primary.MergedAt, a.cfg.ClockSkew)
			}
		}

		switch {
		case buildErr == nil:
			snap.BuildStatus = build
		case qa.KindOf(buildErr) == qa.KindNotFound:
			logging.FromContext(ctx).Debug(ctx, "no build found for change",
				zap.String("change", primary.ID), zap.String("branch", primary.Branch))
		default:
			record(SourceBuild, buildErr)
		}
	}

	if ctx.Err() != nil {
		return nil, cancelled(ctx, key)
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Source < errs[j].Source })
	if errs != nil {
		snap.Errors = errs
	}
	for _, e := range snap.Errors {
		branchErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", strings.SplitN(e.Source, ":", 2)[0]),
			attribute.String("kind", string(e.Kind)),
		))
	}
	snap.Readiness = a.readiness(snap)

	span.SetAttributes(
		attribute.Bool("qa.linked", snap.Linked),
		attribute.Int("qa.matched_changes", len(snap.MatchedChanges)),
		attribute.Int("qa.branch_errors", len(snap.Errors)),
	)
	logging.FromContext(ctx).Info(ctx, "built ticket context",
		zap.Bool("linked", snap.Linked),
		zap.String("readiness", snap.Readiness),
		zap.Int("errors", len(snap.Errors)),
	)
	return snap, nil
}

func (a *Aggregator) deployments(ctx context.Context, change qa.CodeChange) (deploy.Comparison, error) {
	if a.comparator == nil || len(a.cfg.Environments) == 0 {
		return deploy.Comparison{}, nil
	}
	if change.Repository == "" {
		return deploy.Comparison{}, qa.InvalidInput("aggregate.deployments", "change %s has no repository", change.ID)
	}
	return a.comparator.Compare(ctx, change.Repository, a.cfg.Environments)
}

func (a *Aggregator) latestBuild(ctx context.Context, change qa.CodeChange) (*qa.BuildRun, error) {
	job := a.cfg.RepoJobs[change.Repository]
	if a.waiter == nil || job == "" || change.Branch == "" {
		return nil, qa.NotFound("aggregate.latest_build", nil, change.ID)
	}
	return a.waiter.LatestForBranch(ctx, job, change.Branch)
}

func (a *Aggregator) readiness(snap *qa.ContextSnapshot) string {
	primary, ok := snap.PrimaryChange()
	switch {
	case !ok:
		return ReadinessNoLinkedChange
	case !primary.Merged():
		return ReadinessNotMerged
	case snap.DeployedAfterMerge[a.cfg.VerifyEnvironment]:
		return ReadinessReady
	default:
		return ReadinessNotVerified
	}
}

func cancelled(ctx context.Context, key string) error {
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, "cancelled")
	return qa.NewError("aggregate.get_context", qa.KindCancelled, ctx.Err(), key)
}
