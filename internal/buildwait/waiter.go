// Package buildwait waits for CI builds to finish and records the result on
// the linked code change.
//
// A wait polls the build on a fixed interval until it reaches a terminal
// status, the wait ceiling passes, polling keeps failing, or every caller has
// gone away. Concurrent waits for the same build and target share one flight:
// one polling loop and at most one description update.
package buildwait

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

// Config holds waiter defaults.
type Config struct {
	// PollInterval is the delay between status reads.
	PollInterval time.Duration

	// MaxWait is the ceiling on accumulated wait time.
	MaxWait time.Duration

	// BranchParameter is the build parameter holding the branch name.
	// Default: BRANCH
	BranchParameter string

	// Policy governs each status read and description update.
	Policy resilience.Policy
}

// Request describes one wait.
type Request struct {
	BuildID string `json:"build_id"`

	// ChangeID is the code change whose description receives the status
	// section. Empty means no side effect.
	ChangeID string `json:"change_id,omitempty"`

	// PollInterval and MaxWait override the waiter defaults when positive.
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	MaxWait      time.Duration `json:"max_wait,omitempty"`
}

// SideEffect reports the description update made on completion.
type SideEffect struct {
	Target   string      `json:"target"`
	Applied  bool        `json:"applied"`
	Changed  bool        `json:"changed"`
	Error    string      `json:"error,omitempty"`
	Severity qa.Severity `json:"severity,omitempty"`
}

// Outcome is the result of a wait.
type Outcome struct {
	BuildID    string        `json:"build_id"`
	State      string        `json:"state"`
	Build      *qa.BuildRun  `json:"build,omitempty"`
	Polls      int           `json:"polls"`
	Elapsed    time.Duration `json:"elapsed"`
	SideEffect *SideEffect   `json:"side_effect,omitempty"`
}

type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// Waiter polls builds through a BuildPort.
type Waiter struct {
	builds qa.BuildPort
	target qa.DescriptionEditor
	cfg    Config

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// New creates a Waiter. target may be nil, in which case completed waits
// have no side effect.
func New(builds qa.BuildPort, target qa.DescriptionEditor, cfg Config) *Waiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 45 * time.Minute
	}
	if cfg.BranchParameter == "" {
		cfg.BranchParameter = "BRANCH"
	}
	cfg.Policy.ApplyDefaults()

	return &Waiter{
		builds:  builds,
		target:  target,
		cfg:     cfg,
		flights: make(map[string]*flight),
	}
}

// Wait blocks until the build reaches a terminal status or the wait ends
// otherwise.
//
// A completed wait returns a nil error whatever the build result was. The
// other end states return errors of kind TimedOut, PollFailure (or NotFound
// for an unknown build) and Cancelled. When ctx is done Wait returns at once;
// the shared flight keeps running while other callers remain.
func (w *Waiter) Wait(ctx context.Context, req Request) (Outcome, error) {
	if req.BuildID == "" {
		return Outcome{}, qa.InvalidInput("buildwait.wait", "build id is required")
	}
	if req.PollInterval <= 0 {
		req.PollInterval = w.cfg.PollInterval
	}
	if req.MaxWait <= 0 {
		req.MaxWait = w.cfg.MaxWait
	}

	key := req.BuildID + "\x00" + req.ChangeID
	f := w.join(ctx, key)
	defer w.leave(key, f)

	ch := w.group.DoChan(key, func() (any, error) {
		return w.run(f.ctx, req)
	})

	select {
	case res := <-ch:
		out, _ := res.Val.(Outcome)
		if res.Shared {
			logging.FromContext(ctx).Debug(ctx, "joined in-flight build wait",
				zap.String("build_id", req.BuildID),
				zap.String("change_id", req.ChangeID),
			)
		}
		return out, res.Err
	case <-ctx.Done():
		return Outcome{BuildID: req.BuildID, State: StateCancelled},
			qa.NewError("buildwait.wait", qa.KindCancelled, ctx.Err(), req.BuildID)
	}
}

// join registers a caller on the flight for key, creating it if needed. The
// flight context keeps the first caller's values but not its cancellation.
func (w *Waiter) join(ctx context.Context, key string) *flight {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		w.flights[key] = f
	}
	f.refs++
	return f
}

// leave drops a caller. The last caller out cancels the flight and forgets
// the key so later callers start fresh.
func (w *Waiter) leave(key string, f *flight) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if w.flights[key] == f {
		delete(w.flights, key)
		w.group.Forget(key)
	}
}

func (w *Waiter) run(ctx context.Context, req Request) (Outcome, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()
	out := Outcome{BuildID: req.BuildID}

	lc, err := startLifecycle(req.BuildID)
	if err != nil {
		return out, err
	}

	finish := func(err error) (Outcome, error) {
		out.State = lc.current()
		out.Elapsed = time.Since(start)
		attrs := metric.WithAttributes(attribute.String("state", out.State))
		outcomeCounter.Add(ctx, 1, attrs)
		waitDuration.Record(ctx, out.Elapsed.Seconds(), attrs)

		logger.Info(ctx, "build wait finished",
			zap.String("build_id", req.BuildID),
			zap.String("state", out.State),
			zap.Int("polls", out.Polls),
			zap.Duration("elapsed", out.Elapsed),
		)
		return out, err
	}

	if ctx.Err() != nil {
		lc.send(eventCancel)
		return finish(qa.NewError("buildwait.wait", qa.KindCancelled, ctx.Err(), req.BuildID))
	}
	lc.send(eventStart)

	// Polls, retries and sleeps all run under the ceiling, so a slow status
	// read cannot carry the wait past MaxWait.
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(req.MaxWait))
	defer cancel()

	timedOut := func() (Outcome, error) {
		lc.send(eventDeadline)
		status := "pending"
		if out.Build != nil {
			status = string(out.Build.Status)
		}
		return finish(qa.NewError("buildwait.wait", qa.KindTimedOut,
			fmt.Errorf("build still %s after %s", status, req.MaxWait), req.BuildID))
	}

	for {
		build, err := resilience.Call(pollCtx, w.cfg.Policy, "build.get_status", func(ctx context.Context) (*qa.BuildRun, error) {
			return w.builds.GetStatus(ctx, req.BuildID)
		})
		out.Polls++
		pollCounter.Add(ctx, 1)

		if ctx.Err() != nil {
			lc.send(eventCancel)
			return finish(qa.NewError("buildwait.wait", qa.KindCancelled, ctx.Err(), req.BuildID))
		}
		if err != nil && pollCtx.Err() != nil {
			return timedOut()
		}
		if err != nil {
			lc.send(eventPollError)
			if qa.KindOf(err) == qa.KindNotFound {
				return finish(err)
			}
			return finish(qa.NewError("buildwait.poll", qa.KindPollFailure, err, req.BuildID))
		}

		out.Build = build
		logger.Debug(ctx, "polled build status",
			zap.String("build_id", req.BuildID),
			zap.String("status", string(build.Status)),
			zap.Int("poll", out.Polls),
		)

		if build.Status.Terminal() {
			lc.send(eventTerminal)
			out.SideEffect = w.applySideEffect(ctx, req.ChangeID, *build)
			return finish(nil)
		}

		if err := sleep(pollCtx, req.PollInterval); err != nil {
			if ctx.Err() != nil {
				lc.send(eventCancel)
				return finish(qa.NewError("buildwait.wait", qa.KindCancelled, ctx.Err(), req.BuildID))
			}
			return timedOut()
		}
	}
}

// applySideEffect replaces the status section of the change description.
// Failure is recorded with high severity and does not fail the wait.
func (w *Waiter) applySideEffect(ctx context.Context, changeID string, build qa.BuildRun) *SideEffect {
	if changeID == "" || w.target == nil {
		return nil
	}
	se := &SideEffect{Target: changeID}

	err := func() error {
		body, err := resilience.Call(ctx, w.cfg.Policy, "codehost.get_description", func(ctx context.Context) (string, error) {
			return w.target.GetDescription(ctx, changeID)
		})
		if err != nil {
			return err
		}
		updated := ReplaceSection(body, RenderStatus(build))
		if updated == body {
			return nil
		}
		se.Changed = true
		return resilience.Do(ctx, w.cfg.Policy, "codehost.update_description", func(ctx context.Context) error {
			return w.target.UpdateDescription(ctx, changeID, updated)
		})
	}()

	result := "applied"
	if err != nil {
		se.Changed = false
		se.Error = err.Error()
		se.Severity = qa.SeverityHigh
		result = "failed"
		logging.FromContext(ctx).Warn(ctx, "failed to update build status section",
			zap.String("build_id", build.ID),
			zap.String("change_id", changeID),
			zap.Error(err),
		)
	} else {
		se.Applied = true
	}
	sideEffectCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return se
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Status reads the current status of a build once, without waiting.
func (w *Waiter) Status(ctx context.Context, buildID string) (*qa.BuildRun, error) {
	if buildID == "" {
		return nil, qa.InvalidInput("buildwait.status", "build id is required")
	}
	return resilience.Call(ctx, w.cfg.Policy, "build.get_status", func(ctx context.Context) (*qa.BuildRun, error) {
		return w.builds.GetStatus(ctx, buildID)
	})
}

// LatestForBranch returns the most recent run of jobPath whose branch
// parameter equals branch.
func (w *Waiter) LatestForBranch(ctx context.Context, jobPath, branch string) (*qa.BuildRun, error) {
	if jobPath == "" || branch == "" {
		return nil, qa.InvalidInput("buildwait.latest_for_branch", "job path and branch are required")
	}
	runs, err := resilience.Call(ctx, w.cfg.Policy, "build.list_recent", func(ctx context.Context) ([]qa.BuildRun, error) {
		return w.builds.ListRecent(ctx, jobPath)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	for i := range runs {
		if runs[i].Parameters[w.cfg.BranchParameter] == branch {
			run := runs[i]
			return &run, nil
		}
	}
	return nil, qa.NotFound("buildwait.latest_for_branch",
		fmt.Errorf("no recent build of %s for branch %s", jobPath, branch), jobPath)
}
