package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/aggregate"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/qa/qatest"
)

var mergedAt = time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)

type staticContext struct {
	snap *qa.ContextSnapshot
	err  error
}

func (s staticContext) GetContext(context.Context, string) (*qa.ContextSnapshot, error) {
	return s.snap, s.err
}

// snapshot builds a linked, merged snapshot deployed to staging at deployedAt.
func snapshot(deployedAt time.Time, build *qa.BuildRun) *qa.ContextSnapshot {
	m := mergedAt
	return &qa.ContextSnapshot{
		Ticket: qa.TicketRef{Key: "PROJ-1", Status: statusInQA, URL: "https://jira.example.com/browse/PROJ-1"},
		Linked: true,
		MatchedChanges: []qa.CodeChange{{
			ID: "org/api#7", Repository: "org/api", Title: "Login fix", Branch: "feature/PROJ-1", MergedAt: &m,
		}},
		Deployment: map[string]qa.DeploymentMarker{
			"staging": {Environment: "staging", ArtifactID: "org/api", LastModified: deployedAt},
		},
		DeployedAfterMerge: map[string]bool{"staging": !deployedAt.Before(mergedAt)},
		BuildStatus:        build,
		Errors:             []qa.SourceError{},
	}
}

func TestVerifyAndResolve_InconclusiveNeverResolves(t *testing.T) {
	running := &qa.BuildRun{ID: "pr-gate#4", Status: qa.BuildRunning}
	success := &qa.BuildRun{ID: "pr-gate#4", Status: qa.BuildSuccess}

	tests := []struct {
		name   string
		snap   *qa.ContextSnapshot
		reason string
	}{
		{"no linked change", &qa.ContextSnapshot{
			Ticket: qa.TicketRef{Key: "PROJ-1"}, MatchedChanges: []qa.CodeChange{},
		}, "no linked change"},
		{"code host down", &qa.ContextSnapshot{
			Ticket: qa.TicketRef{Key: "PROJ-1"}, MatchedChanges: []qa.CodeChange{},
			Errors: []qa.SourceError{{Source: aggregate.SourceCodeHost, Kind: qa.KindTransient, Message: "502"}},
		}, "code host unavailable"},
		{"not merged", func() *qa.ContextSnapshot {
			s := snapshot(mergedAt, success)
			s.MatchedChanges[0].MergedAt = nil
			return s
		}(), "not merged"},
		{"deployed before merge", snapshot(mergedAt.Add(-time.Hour), success), "before merge"},
		{"deployment unreadable", func() *qa.ContextSnapshot {
			s := snapshot(mergedAt, success)
			s.Deployment = map[string]qa.DeploymentMarker{}
			s.Errors = []qa.SourceError{{Source: aggregate.DeploySource("staging"), Kind: qa.KindTransient, Message: "throttled"}}
			return s
		}(), "could not be read"},
		{"build still running", snapshot(mergedAt, running), "still running"},
		{"no build", snapshot(mergedAt, nil), "no build found"},
		{"build aborted", snapshot(mergedAt, &qa.BuildRun{ID: "pr-gate#4", Status: qa.BuildAborted}), "aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
			w := New(tracker, staticContext{snap: tt.snap}, nil, testConfig())

			res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{})
			require.Error(t, err)
			assert.Equal(t, qa.KindVerificationInconclusive, qa.KindOf(err))
			assert.Equal(t, VerdictInconclusive, res.Verdict)
			assert.Contains(t, strings.Join(res.Reasons, "; "), tt.reason)
			assert.Nil(t, res.Report)

			assert.Empty(t, tracker.Calls(), "no resolving step may run")
			assert.Equal(t, statusInQA, tracker.Ticket("PROJ-1").Status)
		})
	}
}

func TestVerifyAndResolve_Pass(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	chat := new(qatest.ChatPort)
	chat.On("PostMessage", mock.Anything, "room-1", mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "PROJ-1") && strings.Contains(msg, "pass")
	})).Return(nil)

	cfg := testConfig()
	cfg.NotifyRoom = "room-1"
	w := New(tracker, staticContext{snap: snapshot(mergedAt, &qa.BuildRun{ID: "pr-gate#4", Status: qa.BuildSuccess})}, chat, cfg)

	res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{Summary: "Login works"})
	require.NoError(t, err)

	assert.Equal(t, VerdictPass, res.Verdict)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.OK())
	assert.True(t, res.Notified)
	assert.Equal(t, statusResolved, tracker.Ticket("PROJ-1").Status)
	assert.Equal(t, qa.TestResultPass, tracker.Ticket("PROJ-1").TestResult)

	comments := tracker.Comments("PROJ-1")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "h3. QA Validation - PASS")
	assert.Contains(t, comments[0], "*Environment:* staging")
	assert.Contains(t, comments[0], "PASS - Login works")
	chat.AssertExpectations(t)
}

func TestVerifyAndResolve_PassWithoutBuildWhenNotRequired(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	w := New(tracker, staticContext{snap: snapshot(mergedAt.Add(time.Minute), nil)}, nil, testConfig())

	requireBuild := false
	res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{RequireBuild: &requireBuild})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
	assert.False(t, res.Notified)
}

func TestVerifyAndResolve_Fail(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	build := &qa.BuildRun{ID: "pr-gate#4", Status: qa.BuildFailure, URL: "https://ci.example.com/job/pr-gate/4/"}
	w := New(tracker, staticContext{snap: snapshot(mergedAt, build)}, nil, testConfig())

	res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, res.Verdict)
	assert.Equal(t, statusReopened, tracker.Ticket("PROJ-1").Status)
	assert.Equal(t, qa.TestResultFail, tracker.Ticket("PROJ-1").TestResult)

	comments := tracker.Comments("PROJ-1")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "QA Validation - FAIL")
	assert.Contains(t, comments[0], "[pr-gate#4|https://ci.example.com/job/pr-gate/4/]")
}

func TestVerifyAndResolve_NotifyFailureIsBestEffort(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	chat := new(qatest.ChatPort)
	chat.On("PostMessage", mock.Anything, "room-1", mock.Anything).Return(errors.New("401 unauthorized"))

	cfg := testConfig()
	cfg.NotifyRoom = "room-1"
	w := New(tracker, staticContext{snap: snapshot(mergedAt, &qa.BuildRun{ID: "b", Status: qa.BuildSuccess})}, chat, cfg)

	res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Contains(t, res.NotifyError, "401")
	chat.AssertNumberOfCalls(t, "PostMessage", 1)
}

func TestVerifyAndResolve_EnvironmentOverride(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	w := New(tracker, staticContext{snap: snapshot(mergedAt, &qa.BuildRun{ID: "b", Status: qa.BuildSuccess})}, nil, testConfig())

	res, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{Environment: "prod"})
	assert.Equal(t, qa.KindVerificationInconclusive, qa.KindOf(err))
	assert.Equal(t, "prod", res.Environment)
	assert.Contains(t, res.Reasons, "no deployment marker for prod")
}

func TestVerifyAndResolve_ContextFailure(t *testing.T) {
	tracker := newTracker(qa.TicketRef{Key: "PROJ-1", Status: statusInQA})
	w := New(tracker, staticContext{err: qa.NotFound("jira.get_issue", errors.New("404"), "PROJ-1")}, nil, testConfig())

	_, err := w.VerifyAndResolve(context.Background(), "PROJ-1", VerifyOptions{})
	assert.Equal(t, qa.KindNotFound, qa.KindOf(err))
	assert.Empty(t, tracker.Calls())
}
