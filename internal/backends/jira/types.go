package jira

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// issueResponse keeps fields raw because custom field shapes vary by instance.
type issueResponse struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type searchResponse struct {
	Total  int             `json:"total"`
	Issues []issueResponse `json:"issues"`
}

type namedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type userField struct {
	Name        string `json:"name"`
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

func (u *userField) id() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.AccountID
}

func (c *Client) toTicket(issue *issueResponse) (*qa.TicketRef, error) {
	t := &qa.TicketRef{Key: issue.Key, URL: c.IssueURL(issue.Key)}

	if err := decodeField(issue.Fields, "summary", &t.Summary); err != nil {
		return nil, err
	}

	var status, issueType, priority namedField
	if err := decodeField(issue.Fields, "status", &status); err != nil {
		return nil, err
	}
	if err := decodeField(issue.Fields, "issuetype", &issueType); err != nil {
		return nil, err
	}
	if err := decodeField(issue.Fields, "priority", &priority); err != nil {
		return nil, err
	}
	t.Status = status.Name
	t.IssueType = issueType.Name
	t.Priority = priority.Name

	var assignee *userField
	if err := decodeField(issue.Fields, "assignee", &assignee); err != nil {
		return nil, err
	}
	t.Assignee = assignee.id()

	if id, ok := c.fields[fieldValidator]; ok {
		var validator *userField
		if err := decodeField(issue.Fields, id, &validator); err != nil {
			return nil, err
		}
		t.Validator = validator.id()
	}

	if id, ok := c.fields[fieldTestResult]; ok {
		if raw, ok := issue.Fields[id]; ok {
			value := optionValue(raw)
			if semantic, ok := c.fromJira[strings.ToLower(value)]; ok {
				t.TestResult = semantic
			} else {
				t.TestResult = value
			}
		}
	}

	if id, ok := c.fields[fieldRepositories]; ok {
		if raw, ok := issue.Fields[id]; ok {
			t.Repositories = repositories(raw)
		}
	}
	return t, nil
}

func decodeField(fields map[string]json.RawMessage, name string, out any) error {
	raw, ok := fields[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse field %s: %w", name, err)
	}
	return nil
}

// optionValue reads a select option, which may be an object or a bare string.
func optionValue(raw json.RawMessage) string {
	var opt namedField
	if err := json.Unmarshal(raw, &opt); err == nil {
		if opt.Value != "" {
			return opt.Value
		}
		return opt.Name
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// repositories accepts a comma separated string, a string array, or an array
// of select options.
func repositories(raw json.RawMessage) []string {
	var out []string
	add := func(s string) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		add(s)
		return out
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			add(optionValue(item))
		}
	}
	return out
}
