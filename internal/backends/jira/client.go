// Package jira implements qa.TicketPort against the Jira REST API v2.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fyrsmithlabs/qaflow/internal/backends/rest"
	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

const apiPrefix = "rest/api/2"

// Semantic names of the custom fields the adapter maps.
const (
	fieldValidator    = "validator"
	fieldTestResult   = "test_result"
	fieldRepositories = "repositories"
)

// Config configures the adapter.
type Config struct {
	URL      string
	Username string
	Token    string

	// Fields maps validator, test_result and repositories to custom field ids.
	Fields map[string]string

	// TestResultValues maps pass, fail and in_progress to select option values.
	TestResultValues map[string]string

	RateLimit  float64
	HTTPClient *http.Client
}

// FromConfig converts loaded configuration.
func FromConfig(cfg config.JiraConfig) Config {
	return Config{
		URL:              cfg.URL,
		Username:         cfg.Username,
		Token:            cfg.APIToken.Value(),
		Fields:           cfg.Fields,
		TestResultValues: cfg.TestResultValues,
		RateLimit:        cfg.RateLimit,
	}
}

// Client is a Jira-backed qa.TicketPort.
type Client struct {
	api      *rest.Client
	base     string
	fields   map[string]string
	toJira   map[string]string
	fromJira map[string]string
}

var (
	_ qa.TicketPort     = (*Client)(nil)
	_ qa.TicketSearcher = (*Client)(nil)
)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	base := strings.TrimSuffix(cfg.URL, "/")
	c := &Client{
		api: rest.New(rest.Options{
			BaseURL:    base + "/" + apiPrefix,
			Auth:       rest.TokenAuth(cfg.Username, cfg.Token),
			RateLimit:  cfg.RateLimit,
			HTTPClient: cfg.HTTPClient,
			UserAgent:  "qaflow-jira/1.0",
		}),
		base:     base,
		fields:   make(map[string]string),
		toJira:   make(map[string]string),
		fromJira: make(map[string]string),
	}
	for name, id := range cfg.Fields {
		if id != "" {
			c.fields[name] = id
		}
	}
	for semantic, value := range cfg.TestResultValues {
		c.toJira[semantic] = value
		c.fromJira[strings.ToLower(value)] = semantic
	}
	return c, nil
}

// SupportedFields returns the semantic fields this tracker can set.
func (c *Client) SupportedFields() map[string]bool {
	supported := map[string]bool{qa.FieldAssignee: true}
	if _, ok := c.fields[fieldValidator]; ok {
		supported[qa.FieldValidator] = true
	}
	if _, ok := c.fields[fieldTestResult]; ok && len(c.toJira) > 0 {
		supported[qa.FieldTestResult] = true
	}
	return supported
}

// IssueURL returns the browse link for key.
func (c *Client) IssueURL(key string) string {
	return c.base + "/browse/" + key
}

func issuePath(key string, suffix ...string) string {
	return strings.Join(append([]string{"issue", url.PathEscape(key)}, suffix...), "/")
}

// fieldNames lists the issue fields toTicket reads.
func (c *Client) fieldNames() []string {
	names := []string{"summary", "status", "issuetype", "priority", "assignee"}
	for _, id := range c.fields {
		names = append(names, id)
	}
	return names
}

// Get fetches an issue.
func (c *Client) Get(ctx context.Context, key string) (*qa.TicketRef, error) {
	var issue issueResponse
	err := c.api.JSON(ctx, rest.Request{
		Path:  issuePath(key),
		Query: url.Values{"fields": {strings.Join(c.fieldNames(), ",")}},
	}, &issue)
	if err != nil {
		return nil, rest.Classify("jira.get_issue", err, key)
	}
	return c.toTicket(&issue)
}

// SetFields writes semantic fields. The assignee goes through the assignee
// endpoint; everything else is one issue update.
func (c *Client) SetFields(ctx context.Context, key string, fields map[string]any) error {
	update := make(map[string]any)

	for name, value := range fields {
		s := fmt.Sprint(value)
		switch name {
		case qa.FieldAssignee:
			err := c.api.JSON(ctx, rest.Request{
				Method: http.MethodPut,
				Path:   issuePath(key, "assignee"),
				Body:   map[string]string{"name": s},
			}, nil)
			if err != nil {
				return rest.Classify("jira.assign_issue", err, key)
			}

		case qa.FieldValidator:
			id, ok := c.fields[fieldValidator]
			if !ok {
				return qa.InvalidInput("jira.update_issue", "validator field is not configured")
			}
			update[id] = map[string]string{"name": s}

		case qa.FieldTestResult:
			id, ok := c.fields[fieldTestResult]
			if !ok {
				return qa.InvalidInput("jira.update_issue", "test_result field is not configured")
			}
			option, ok := c.toJira[s]
			if !ok {
				return qa.InvalidInput("jira.update_issue", "invalid test result %q", s)
			}
			update[id] = map[string]string{"value": option}

		default:
			return qa.InvalidInput("jira.update_issue", "unsupported field %q", name)
		}
	}

	if len(update) == 0 {
		return nil
	}
	err := c.api.JSON(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   issuePath(key),
		Body:   map[string]any{"fields": update},
	}, nil)
	return rest.Classify("jira.update_issue", err, key)
}

// Transition applies a workflow transition by id.
func (c *Client) Transition(ctx context.Context, key, transitionID string) error {
	err := c.api.JSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   issuePath(key, "transitions"),
		Body:   map[string]any{"transition": map[string]string{"id": transitionID}},
	}, nil)
	return rest.Classify("jira.transition_issue", err, key)
}

// AddComment posts a wiki-markup comment.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	err := c.api.JSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   issuePath(key, "comment"),
		Body:   map[string]string{"body": text},
	}, nil)
	return rest.Classify("jira.add_comment", err, key)
}

// SearchTickets runs a JQL query. Jira rejects malformed JQL with 400, which
// surfaces as a permanent error.
func (c *Client) SearchTickets(ctx context.Context, jql string, max int) ([]qa.TicketRef, error) {
	var resp searchResponse
	err := c.api.JSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "search",
		Body: map[string]any{
			"jql":        jql,
			"maxResults": max,
			"fields":     c.fieldNames(),
		},
	}, &resp)
	if err != nil {
		return nil, rest.Classify("jira.search_issues", err, jql)
	}

	tickets := make([]qa.TicketRef, 0, len(resp.Issues))
	for i := range resp.Issues {
		t, err := c.toTicket(&resp.Issues[i])
		if err != nil {
			return nil, fmt.Errorf("jira.search_issues: %s: %w", resp.Issues[i].Key, err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, nil
}
