// Package github implements qa.CodeHostPort and qa.DescriptionEditor on the
// GitHub REST API.
//
// Change ids have the form "owner/repo#number". Commit references are either
// "owner/repo@sha" or a bare sha, which is looked up in the configured
// repositories in order.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

const (
	defaultRateLimit = 10.0
	pageSize         = 100
	searchPageSize   = 50
	fetchConcurrency = 4
)

// Config configures the adapter.
type Config struct {
	Token   string
	BaseURL string

	// Repositories scopes reference search and bare-sha commit lookups.
	Repositories []string

	RateLimit  float64
	HTTPClient *http.Client
}

// FromConfig converts loaded configuration.
func FromConfig(cfg config.GitHubConfig) Config {
	return Config{
		Token:        cfg.Token.Value(),
		BaseURL:      cfg.BaseURL,
		Repositories: cfg.Repositories,
		RateLimit:    cfg.RateLimit,
	}
}

// Client is a GitHub-backed code host.
type Client struct {
	gh      *gh.Client
	repos   []string
	limiter *rate.Limiter
}

var (
	_ qa.CodeHostPort      = (*Client)(nil)
	_ qa.DescriptionEditor = (*Client)(nil)
)

// New creates a client. A token is optional for public repositories.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if cfg.Token != "" {
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "api.github.com") {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	return &Client{
		gh:      client,
		repos:   cfg.Repositories,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// ChangeID formats a change id.
func ChangeID(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// ParseChangeID splits "owner/repo#number".
func ParseChangeID(id string) (owner, repo string, number int, err error) {
	i := strings.LastIndex(id, "#")
	if i < 0 {
		return "", "", 0, qa.InvalidInput("github.parse_change_id", "change id %q must look like owner/repo#number", id)
	}
	owner, repo, err = splitRepo(id[:i])
	if err != nil {
		return "", "", 0, err
	}
	number, convErr := strconv.Atoi(id[i+1:])
	if convErr != nil || number <= 0 {
		return "", "", 0, qa.InvalidInput("github.parse_change_id", "change id %q has an invalid number", id)
	}
	return owner, repo, number, nil
}

func splitRepo(full string) (owner, repo string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", qa.InvalidInput("github.parse_repository", "repository %q must look like owner/repo", full)
	}
	return parts[0], parts[1], nil
}

// FindChangesReferencing returns pull requests whose title, body or head
// branch mention text. With configured repositories their recent pull
// requests are scanned; otherwise the search API is used.
func (c *Client) FindChangesReferencing(ctx context.Context, text string) ([]qa.CodeChange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, qa.InvalidInput("github.find_changes", "search text is required")
	}
	if len(c.repos) > 0 {
		return c.scanRepositories(ctx, text)
	}
	return c.search(ctx, text)
}

func (c *Client) scanRepositories(ctx context.Context, text string) ([]qa.CodeChange, error) {
	needle := strings.ToLower(text)
	perRepo := make([][]qa.CodeChange, len(c.repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, full := range c.repos {
		g.Go(func() error {
			owner, repo, err := splitRepo(full)
			if err != nil {
				return err
			}
			if err := c.wait(gctx); err != nil {
				return err
			}
			prs, resp, err := c.gh.PullRequests.List(gctx, owner, repo, &gh.PullRequestListOptions{
				State:       "all",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: gh.ListOptions{PerPage: pageSize},
			})
			if err != nil {
				return classify("github.list_pull_requests", resp, err, full)
			}
			for _, pr := range prs {
				if mentions(pr, needle) {
					perRepo[i] = append(perRepo[i], toChange(full, pr))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	changes := []qa.CodeChange{}
	for _, found := range perRepo {
		changes = append(changes, found...)
	}
	return changes, nil
}

func mentions(pr *gh.PullRequest, needle string) bool {
	for _, s := range []string{pr.GetTitle(), pr.GetBody(), pr.GetHead().GetRef()} {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func (c *Client) search(ctx context.Context, text string) ([]qa.CodeChange, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, resp, err := c.gh.Search.Issues(ctx, fmt.Sprintf("%q is:pr", text), &gh.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: searchPageSize},
	})
	if err != nil {
		return nil, classify("github.search_issues", resp, err, text)
	}

	var hits []*gh.Issue
	for _, issue := range result.Issues {
		if issue.IsPullRequest() {
			hits = append(hits, issue)
		}
	}

	// Search hits lack branch and merge data, so each one is fetched.
	changes := make([]*qa.CodeChange, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, issue := range hits {
		g.Go(func() error {
			full := repoFromAPIURL(issue.GetRepositoryURL())
			if full == "" {
				return nil
			}
			change, err := c.getPullRequest(gctx, full, issue.GetNumber())
			if err != nil {
				if qa.KindOf(err) == qa.KindNotFound {
					return nil
				}
				return err
			}
			changes[i] = change
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []qa.CodeChange{}
	for _, change := range changes {
		if change != nil {
			out = append(out, *change)
		}
	}
	return out, nil
}

// repoFromAPIURL extracts owner/repo from ".../repos/owner/repo".
func repoFromAPIURL(u string) string {
	const marker = "/repos/"
	i := strings.LastIndex(u, marker)
	if i < 0 {
		return ""
	}
	return strings.Trim(u[i+len(marker):], "/")
}

func (c *Client) getPullRequest(ctx context.Context, full string, number int) (*qa.CodeChange, error) {
	owner, repo, err := splitRepo(full)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classify("github.get_pull_request", resp, err, ChangeID(full, number))
	}
	change := toChange(full, pr)
	return &change, nil
}

// GetChange fetches a pull request with its commits.
func (c *Client) GetChange(ctx context.Context, id string) (*qa.CodeChange, error) {
	owner, repo, number, err := ParseChangeID(id)
	if err != nil {
		return nil, err
	}
	full := owner + "/" + repo

	change, err := c.getPullRequest(ctx, full, number)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, &gh.ListOptions{PerPage: pageSize})
	if err != nil {
		return nil, classify("github.list_commits", resp, err, id)
	}
	change.Commits = make([]qa.Commit, 0, len(commits))
	for _, rc := range commits {
		change.Commits = append(change.Commits, toCommit(rc))
	}
	return change, nil
}

// GetCommit fetches a commit by "owner/repo@sha" or bare sha.
func (c *Client) GetCommit(ctx context.Context, ref string) (*qa.Commit, error) {
	if ref == "" {
		return nil, qa.InvalidInput("github.get_commit", "commit sha is required")
	}
	repos := c.repos
	sha := ref
	if i := strings.LastIndex(ref, "@"); i >= 0 {
		repos = []string{ref[:i]}
		sha = ref[i+1:]
	}
	if len(repos) == 0 {
		return nil, qa.InvalidInput("github.get_commit", "commit %q needs a repository (owner/repo@sha)", ref)
	}

	for _, full := range repos {
		owner, repo, err := splitRepo(full)
		if err != nil {
			return nil, err
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		rc, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		if err != nil {
			cerr := classify("github.get_commit", resp, err, full+"@"+sha)
			if qa.KindOf(cerr) == qa.KindNotFound || qa.KindOf(cerr) == qa.KindInternal {
				continue
			}
			return nil, cerr
		}
		commit := toCommit(rc)
		return &commit, nil
	}
	return nil, qa.NotFound("github.get_commit", fmt.Errorf("commit %s not found in %s", sha, strings.Join(repos, ", ")), ref)
}

// FindChangeForCommit returns the pull request that introduced sha in repo.
func (c *Client) FindChangeForCommit(ctx context.Context, full, sha string) (*qa.CodeChange, error) {
	owner, repo, err := splitRepo(full)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	prs, resp, err := c.gh.PullRequests.ListPullRequestsWithCommit(ctx, owner, repo, sha, &gh.ListOptions{PerPage: 10})
	if err != nil {
		return nil, classify("github.list_pull_requests_with_commit", resp, err, full+"@"+sha)
	}
	if len(prs) == 0 {
		return nil, qa.NotFound("github.list_pull_requests_with_commit", fmt.Errorf("no pull request contains %s", sha), full)
	}
	change := toChange(full, prs[0])
	return &change, nil
}

// GetDescription returns the pull request body.
func (c *Client) GetDescription(ctx context.Context, changeID string) (string, error) {
	owner, repo, number, err := ParseChangeID(changeID)
	if err != nil {
		return "", err
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", classify("github.get_pull_request", resp, err, changeID)
	}
	return pr.GetBody(), nil
}

// UpdateDescription replaces the pull request body.
func (c *Client) UpdateDescription(ctx context.Context, changeID, body string) error {
	owner, repo, number, err := ParseChangeID(changeID)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, resp, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, &gh.PullRequest{Body: gh.String(body)})
	return classify("github.update_pull_request", resp, err, changeID)
}

func toChange(full string, pr *gh.PullRequest) qa.CodeChange {
	change := qa.CodeChange{
		ID:         ChangeID(full, pr.GetNumber()),
		Repository: full,
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Branch:     pr.GetHead().GetRef(),
		State:      pr.GetState(),
		HeadSHA:    pr.GetHead().GetSHA(),
		URL:        pr.GetHTMLURL(),
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
	if merged := pr.GetMergedAt().Time; !merged.IsZero() {
		change.MergedAt = &merged
		change.State = "merged"
	}
	return change
}

func toCommit(rc *gh.RepositoryCommit) qa.Commit {
	commit := rc.GetCommit()
	when := commit.GetCommitter().GetDate().Time
	if when.IsZero() {
		when = commit.GetAuthor().GetDate().Time
	}
	return qa.Commit{
		SHA:         rc.GetSHA(),
		Message:     commit.GetMessage(),
		CommittedAt: when,
	}
}
