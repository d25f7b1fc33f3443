// Package jenkins implements qa.BuildPort against the Jenkins JSON API.
//
// Build ids have the form "<job path>#<number>". A triggered build that is
// still queued is identified as "<job path>#queue-<id>" until Jenkins assigns
// it a number; GetStatus resolves queue ids transparently.
package jenkins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/qaflow/internal/backends/rest"
	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

const (
	queuePrefix  = "queue-"
	recentBuilds = 20
	buildTree    = "number,result,building,timestamp,duration,url,actions[parameters[name,value]]"
)

// Config configures the adapter.
type Config struct {
	URL        string
	Username   string
	Token      string
	RateLimit  float64
	HTTPClient *http.Client
}

// FromConfig converts loaded configuration.
func FromConfig(cfg config.JenkinsConfig) Config {
	return Config{
		URL:       cfg.URL,
		Username:  cfg.Username,
		Token:     cfg.APIToken.Value(),
		RateLimit: cfg.RateLimit,
	}
}

// Client is a Jenkins-backed qa.BuildPort.
type Client struct {
	api *rest.Client
}

var _ qa.BuildPort = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jenkins URL not configured")
	}
	return &Client{
		api: rest.New(rest.Options{
			BaseURL:    cfg.URL,
			Auth:       rest.TokenAuth(cfg.Username, cfg.Token),
			RateLimit:  cfg.RateLimit,
			HTTPClient: cfg.HTTPClient,
			UserAgent:  "qaflow-jenkins/1.0",
		}),
	}, nil
}

// JobURLPath expands a folder path such as "team/repo/e2e" to
// "job/team/job/repo/job/e2e". Paths already in that form are kept.
func JobURLPath(jobPath string) string {
	jobPath = strings.Trim(jobPath, "/")
	if jobPath == "" || strings.HasPrefix(jobPath, "job/") {
		return jobPath
	}
	parts := strings.Split(jobPath, "/")
	for i, p := range parts {
		parts[i] = "job/" + url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// BuildID formats a build id.
func BuildID(jobPath string, number int) string {
	return fmt.Sprintf("%s#%d", jobPath, number)
}

// ParseBuildID splits a build id into its job path and number or queue
// reference.
func ParseBuildID(id string) (jobPath, ref string, err error) {
	i := strings.LastIndex(id, "#")
	if i <= 0 || i == len(id)-1 {
		return "", "", qa.InvalidInput("jenkins.parse_build_id", "build id %q must look like <job path>#<number>", id)
	}
	jobPath, ref = id[:i], id[i+1:]
	if strings.HasPrefix(ref, queuePrefix) {
		if _, err := strconv.Atoi(strings.TrimPrefix(ref, queuePrefix)); err == nil {
			return jobPath, ref, nil
		}
	} else if _, err := strconv.Atoi(ref); err == nil {
		return jobPath, ref, nil
	}
	return "", "", qa.InvalidInput("jenkins.parse_build_id", "build id %q has an invalid build number", id)
}

// GetStatus fetches a build, resolving queue ids to their build once Jenkins
// has started them.
func (c *Client) GetStatus(ctx context.Context, buildID string) (*qa.BuildRun, error) {
	jobPath, ref, err := ParseBuildID(buildID)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(ref, queuePrefix) {
		var item queueItem
		err := c.api.JSON(ctx, rest.Request{
			Path: "queue/item/" + strings.TrimPrefix(ref, queuePrefix) + "/api/json",
		}, &item)
		if err != nil {
			return nil, rest.Classify("jenkins.get_queue_item", err, buildID)
		}
		switch {
		case item.Cancelled:
			return &qa.BuildRun{ID: buildID, Status: qa.BuildAborted, Parameters: item.parameters()}, nil
		case item.Executable == nil:
			return &qa.BuildRun{ID: buildID, Status: qa.BuildQueued, Parameters: item.parameters()}, nil
		}
		ref = strconv.Itoa(item.Executable.Number)
	}

	var b build
	err = c.api.JSON(ctx, rest.Request{
		Path:  JobURLPath(jobPath) + "/" + ref + "/api/json",
		Query: url.Values{"tree": {buildTree}},
	}, &b)
	if err != nil {
		return nil, rest.Classify("jenkins.get_build", err, buildID)
	}
	run := b.toRun(jobPath)
	return &run, nil
}

// Trigger queues a build. The returned run carries a queue id.
func (c *Client) Trigger(ctx context.Context, jobPath string, params map[string]string) (*qa.BuildRun, error) {
	if jobPath == "" {
		return nil, qa.InvalidInput("jenkins.trigger", "job path is required")
	}

	req := rest.Request{Method: http.MethodPost, Path: JobURLPath(jobPath) + "/build"}
	if len(params) > 0 {
		req.Path = JobURLPath(jobPath) + "/buildWithParameters"
		req.Form = url.Values{}
		for k, v := range params {
			req.Form.Set(k, v)
		}
	}

	resp, err := c.api.Do(ctx, req)
	if err != nil {
		return nil, rest.Classify("jenkins.trigger", err, jobPath)
	}

	location := resp.Header.Get("Location")
	id, ok := queueID(location)
	if !ok {
		return nil, qa.NewError("jenkins.trigger", qa.KindInternal,
			fmt.Errorf("response has no queue location (got %q)", location), jobPath)
	}
	return &qa.BuildRun{
		ID:         jobPath + "#" + queuePrefix + id,
		Status:     qa.BuildQueued,
		URL:        location,
		StartedAt:  time.Now().UTC(),
		Parameters: params,
	}, nil
}

// ListRecent returns the job's latest builds, newest first.
func (c *Client) ListRecent(ctx context.Context, jobPath string) ([]qa.BuildRun, error) {
	if jobPath == "" {
		return nil, qa.InvalidInput("jenkins.list_builds", "job path is required")
	}

	var job struct {
		Builds []build `json:"builds"`
	}
	err := c.api.JSON(ctx, rest.Request{
		Path:  JobURLPath(jobPath) + "/api/json",
		Query: url.Values{"tree": {fmt.Sprintf("builds[%s]{0,%d}", buildTree, recentBuilds)}},
	}, &job)
	if err != nil {
		return nil, rest.Classify("jenkins.list_builds", err, jobPath)
	}

	runs := make([]qa.BuildRun, 0, len(job.Builds))
	for _, b := range job.Builds {
		runs = append(runs, b.toRun(jobPath))
	}
	return runs, nil
}

// queueID extracts the item id from ".../queue/item/<id>/".
func queueID(location string) (string, bool) {
	const marker = "/queue/item/"
	i := strings.Index(location, marker)
	if i < 0 {
		return "", false
	}
	id := strings.Trim(location[i+len(marker):], "/")
	if _, err := strconv.Atoi(id); err != nil {
		return "", false
	}
	return id, true
}
