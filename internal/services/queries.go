package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

// Ticket search limits.
const (
	DefaultTicketLimit = 20
	MaxTicketLimit     = 100
)

// TicketQuery runs one of the configured ticket searches. Project and User
// fall back to the configured project and tracker user.
type TicketQuery struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	User    string `json:"user,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// TicketList is the result of a ticket search.
type TicketList struct {
	Query   string         `json:"query"`
	JQL     string         `json:"jql"`
	Count   int            `json:"count"`
	Tickets []qa.TicketRef `json:"tickets"`
}

var errEmptyQueryValue = errors.New("value is empty")

// queryData is what a query template can reference.
type queryData struct {
	Project string
	User    string
}

var jqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quoteJQL renders v as a JQL string literal.
func quoteJQL(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errEmptyQueryValue
	}
	return `"` + jqlEscaper.Replace(v) + `"`, nil
}

func parseQuery(name, text string) (*template.Template, error) {
	return template.New(name).
		Funcs(template.FuncMap{"quote": quoteJQL}).
		Parse(text)
}

// CheckQueries parses every query template.
func CheckQueries(queries map[string]string) error {
	var errs []error
	for name, text := range queries {
		if _, err := parseQuery(name, text); err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// QueryNames lists the configured ticket searches, sorted.
func (s *Service) QueryNames() []string {
	names := make([]string, 0, len(s.settings.Queries))
	for name := range s.settings.Queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// renderQuery expands a named query into JQL.
func (s *Service) renderQuery(q TicketQuery) (string, error) {
	const op = "find_tickets"
	if q.Query == "" {
		return "", qa.InvalidInput(op, "query is required (one of %s)", strings.Join(s.QueryNames(), ", "))
	}
	text, ok := s.settings.Queries[q.Query]
	if !ok {
		return "", qa.InvalidInput(op, "unknown query %q (one of %s)", q.Query, strings.Join(s.QueryNames(), ", "))
	}
	tmpl, err := parseQuery(q.Query, text)
	if err != nil {
		return "", qa.InvalidInput(op, "query %s: %v", q.Query, err)
	}

	data := queryData{Project: q.Project, User: q.User}
	if data.Project == "" {
		data.Project = s.settings.Project
	}
	if data.User == "" {
		data.User = s.settings.TrackerUser
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		if errors.Is(err, errEmptyQueryValue) {
			return "", qa.InvalidInput(op, "query %s needs a project and user", q.Query)
		}
		return "", qa.InvalidInput(op, "query %s: %v", q.Query, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// FindTickets runs a named ticket search such as the ready-for-QA queue.
func (s *Service) FindTickets(ctx context.Context, q TicketQuery) (TicketList, error) {
	return observe(ctx, s, "find_tickets", "", func(ctx context.Context) (TicketList, error) {
		searcher := s.reg.Searcher()
		if searcher == nil {
			return TicketList{}, qa.InvalidInput("find_tickets", "ticket search is not configured")
		}
		jql, err := s.renderQuery(q)
		if err != nil {
			return TicketList{}, err
		}

		limit := q.Limit
		if limit <= 0 {
			limit = DefaultTicketLimit
		}
		limit = min(limit, MaxTicketLimit)

		tickets, err := resilience.Call(ctx, s.settings.Policy, "tracker.search", func(ctx context.Context) ([]qa.TicketRef, error) {
			return searcher.SearchTickets(ctx, jql, limit)
		})
		if err != nil {
			return TicketList{}, err
		}
		if tickets == nil {
			tickets = []qa.TicketRef{}
		}
		return TicketList{Query: q.Query, JQL: jql, Count: len(tickets), Tickets: tickets}, nil
	})
}
