// Package qa defines the domain model shared by the orchestration core: the
// read-through projections of tracker, code host, CI and deployment state, the
// backend ports the core consumes, and the failure taxonomy every surface reports.
//
// Nothing in this package holds state beyond a single orchestration call.
package qa

import (
	"time"
)

// TicketRef is a read-through projection of an issue-tracker ticket.
type TicketRef struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
	Validator  string `json:"validator,omitempty"`
	TestResult string `json:"test_result,omitempty"`
	URL        string `json:"url,omitempty"`

	// Repositories is the linked-repo metadata used to scope correlation
	// and to pick the deployment artifact.
	Repositories []string `json:"repositories,omitempty"`
}

// Commit is a single commit under a code change.
type Commit struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	CommittedAt time.Time `json:"committed_at,omitempty"`
}

// CodeChange is a pull request (or equivalent) on the code host.
type CodeChange struct {
	ID         string     `json:"id"`
	Repository string     `json:"repository,omitempty"`
	Number     int        `json:"number,omitempty"`
	Title      string     `json:"title"`
	Branch     string     `json:"branch"`
	State      string     `json:"state,omitempty"`
	HeadSHA    string     `json:"head_sha,omitempty"`
	URL        string     `json:"url,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
	Commits    []Commit   `json:"commits,omitempty"`
}

// Merged reports whether the change has a merge timestamp.
func (c CodeChange) Merged() bool {
	return c.MergedAt != nil && !c.MergedAt.IsZero()
}

// LastActivity returns the latest timestamp known for the change.
func (c CodeChange) LastActivity() time.Time {
	latest := c.UpdatedAt
	if c.MergedAt != nil && c.MergedAt.After(latest) {
		latest = *c.MergedAt
	}
	for _, commit := range c.Commits {
		if commit.CommittedAt.After(latest) {
			latest = commit.CommittedAt
		}
	}
	return latest
}

// BuildStatus is the lifecycle state of a CI build.
type BuildStatus string

const (
	BuildQueued  BuildStatus = "queued"
	BuildRunning BuildStatus = "running"
	BuildSuccess BuildStatus = "success"
	BuildFailure BuildStatus = "failure"
	BuildAborted BuildStatus = "aborted"
	BuildUnknown BuildStatus = "unknown"
)

// Terminal reports whether no further status change is expected.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSuccess, BuildFailure, BuildAborted:
		return true
	default:
		return false
	}
}

// BuildRun is one CI build.
type BuildRun struct {
	ID         string            `json:"id"`
	Status     BuildStatus       `json:"status"`
	URL        string            `json:"url,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// DeploymentMarker is a last-modified snapshot of an artifact in one environment.
type DeploymentMarker struct {
	Environment  string    `json:"environment"`
	ArtifactID   string    `json:"artifact_id"`
	LastModified time.Time `json:"last_modified"`
	Resources    []string  `json:"resources,omitempty"`
}

// SourceError is a failure captured from one aggregation branch.
type SourceError struct {
	Source  string `json:"source"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ContextSnapshot is the merged view of one ticket across all backends.
type ContextSnapshot struct {
	Ticket             TicketRef                   `json:"ticket"`
	Linked             bool                        `json:"linked"`
	MatchRule          string                      `json:"match_rule,omitempty"`
	MatchedChanges     []CodeChange                `json:"matched_changes"`
	Deployment         map[string]DeploymentMarker `json:"deployment,omitempty"`
	DeployedAfterMerge map[string]bool             `json:"deployed_after_merge,omitempty"`
	BuildStatus        *BuildRun                   `json:"build_status,omitempty"`
	Readiness          string                      `json:"readiness"`
	Errors             []SourceError               `json:"errors"`
}

// PrimaryChange returns the most confident matched change, if any.
func (s *ContextSnapshot) PrimaryChange() (CodeChange, bool) {
	if s == nil || len(s.MatchedChanges) == 0 {
		return CodeChange{}, false
	}
	return s.MatchedChanges[0], true
}

// ErrorFor returns the captured error for a branch source.
func (s *ContextSnapshot) ErrorFor(source string) (SourceError, bool) {
	if s == nil {
		return SourceError{}, false
	}
	for _, e := range s.Errors {
		if e.Source == source {
			return e, true
		}
	}
	return SourceError{}, false
}
