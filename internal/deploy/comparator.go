// Package deploy compares deployment markers of one artifact across
// environments.
package deploy

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

// Outcome is the result for one environment: a marker or an error, never both.
type Outcome struct {
	Marker *qa.DeploymentMarker `json:"marker,omitempty"`
	Err    error                `json:"-"`
	Error  string               `json:"error,omitempty"`
}

// Comparison holds one Outcome per requested environment.
type Comparison struct {
	ArtifactID string             `json:"artifact_id"`
	Results    map[string]Outcome `json:"results"`

	// Latest and Oldest name the environments with the newest and oldest
	// markers. They are empty when no environment produced a marker.
	Latest string `json:"latest,omitempty"`
	Oldest string `json:"oldest,omitempty"`

	// Consistent is true when at least one marker was fetched and all fetched
	// markers share the same LastModified.
	Consistent bool `json:"consistent"`
}

// Diverged reports whether two fetched markers disagree.
func (c Comparison) Diverged() bool {
	return len(c.Markers()) > 1 && !c.Consistent
}

// Markers returns the successfully fetched markers keyed by environment.
func (c Comparison) Markers() map[string]qa.DeploymentMarker {
	out := make(map[string]qa.DeploymentMarker)
	for env, o := range c.Results {
		if o.Marker != nil {
			out[env] = *o.Marker
		}
	}
	return out
}

// Errors returns the failed environments and their errors.
func (c Comparison) Errors() map[string]error {
	out := make(map[string]error)
	for env, o := range c.Results {
		if o.Err != nil {
			out[env] = o.Err
		}
	}
	return out
}

// DeployedAfter reports, per fetched environment, whether the marker is at
// or after mergedAt less skew.
func (c Comparison) DeployedAfter(mergedAt time.Time, skew time.Duration) map[string]bool {
	out := make(map[string]bool)
	for env, m := range c.Markers() {
		out[env] = Deployed(m, mergedAt, skew)
	}
	return out
}

// Deployed reports whether marker reflects a change merged at mergedAt.
// Equal timestamps count as deployed, and skew widens the window further
// back to absorb clock drift between the code host and the deploy target.
func Deployed(marker qa.DeploymentMarker, mergedAt time.Time, skew time.Duration) bool {
	return !marker.LastModified.Before(mergedAt.Add(-skew))
}

// Comparator fetches markers through a DeployPort.
type Comparator struct {
	port   qa.DeployPort
	policy resilience.Policy
}

// NewComparator creates a Comparator.
func NewComparator(port qa.DeployPort, policy resilience.Policy) *Comparator {
	return &Comparator{port: port, policy: policy}
}

// Compare fetches the marker of artifactID in every environment concurrently.
// A failed environment becomes an error entry; it never aborts the others.
// Compare itself fails only on invalid input or cancellation.
func (c *Comparator) Compare(ctx context.Context, artifactID string, environments []string) (Comparison, error) {
	if artifactID == "" {
		return Comparison{}, qa.InvalidInput("deploy.compare", "artifact id is required")
	}
	envs := dedupe(environments)
	if len(envs) == 0 {
		return Comparison{}, qa.InvalidInput("deploy.compare", "at least one environment is required")
	}

	outcomes := make([]Outcome, len(envs))
	var g errgroup.Group
	for i, env := range envs {
		g.Go(func() error {
			marker, err := resilience.Call(ctx, c.policy, "deploy.get_last_modified", func(ctx context.Context) (*qa.DeploymentMarker, error) {
				return c.port.GetLastModified(ctx, artifactID, env)
			})
			if err != nil {
				outcomes[i] = Outcome{Err: err, Error: err.Error()}
				return nil
			}
			outcomes[i] = Outcome{Marker: marker}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Comparison{}, qa.NewError("deploy.compare", qa.KindCancelled, err, artifactID)
	}

	cmp := Comparison{ArtifactID: artifactID, Results: make(map[string]Outcome, len(envs))}
	for i, env := range envs {
		cmp.Results[env] = outcomes[i]
	}
	cmp.derive(envs)

	if errs := cmp.Errors(); len(errs) > 0 {
		logger := logging.FromContext(ctx)
		for env, err := range errs {
			logger.Warn(ctx, "deployment marker fetch failed",
				zap.String("artifact", artifactID),
				zap.String("environment", env),
				zap.Error(err),
			)
		}
	}
	return cmp, nil
}

// derive fills Latest, Oldest and Consistent. envs is walked in request
// order so ties resolve to the first-named environment.
func (c *Comparison) derive(envs []string) {
	var latest, oldest *qa.DeploymentMarker
	c.Consistent = true
	fetched := 0
	for _, env := range envs {
		m := c.Results[env].Marker
		if m == nil {
			continue
		}
		fetched++
		if latest == nil || m.LastModified.After(latest.LastModified) {
			latest = m
			c.Latest = env
		}
		if oldest == nil || m.LastModified.Before(oldest.LastModified) {
			oldest = m
			c.Oldest = env
		}
	}
	if fetched == 0 || !latest.LastModified.Equal(oldest.LastModified) {
		c.Consistent = false
	}
}

func dedupe(envs []string) []string {
	seen := make(map[string]bool, len(envs))
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// SortedEnvironments returns the result keys in lexical order.
func (c Comparison) SortedEnvironments() []string {
	out := make([]string, 0, len(c.Results))
	for env := range c.Results {
		out = append(out, env)
	}
	sort.Strings(out)
	return out
}
