package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/qa/qatest"
)

func TestQuoteJQL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PROJ", `"PROJ"`},
		{" alice ", `"alice"`},
		{`say "hi"`, `"say \"hi\""`},
		{`a\b`, `"a\\b"`},
	}
	for _, tt := range tests {
		got, err := quoteJQL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := quoteJQL("  ")
	assert.ErrorIs(t, err, errEmptyQueryValue)
}

func TestFindTickets_DefaultsProjectAndUser(t *testing.T) {
	f := newFixture(false)
	want := `project = "PROJ" AND assignee = "qa-bot" AND status = "In QA" ORDER BY updated DESC`
	f.search.On("SearchTickets", mock.Anything, want, DefaultTicketLimit).
		Return([]qa.TicketRef{{Key: "PROJ-4", Status: "In QA"}}, nil).Once()

	list, err := f.svc.FindTickets(context.Background(), TicketQuery{Query: "my_validations"})
	require.NoError(t, err)
	assert.Equal(t, "my_validations", list.Query)
	assert.Equal(t, want, list.JQL)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "PROJ-4", list.Tickets[0].Key)
	f.search.AssertExpectations(t)
	assert.Equal(t, 1, f.logs.FilterMessage("operation completed").Len())
}

func TestFindTickets_OverridesAndLimit(t *testing.T) {
	f := newFixture(false)
	f.search.On("SearchTickets", mock.Anything, mock.MatchedBy(func(jql string) bool {
		return jql == `project = "WEB" AND type in (Story, Bug, Task) AND status = "Ready for QA" ORDER BY priority DESC`
	}), MaxTicketLimit).Return(nil, nil).Once()

	list, err := f.svc.FindTickets(context.Background(), TicketQuery{
		Query:   "ready_for_qa",
		Project: "WEB",
		Limit:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Tickets)
	f.search.AssertExpectations(t)
}

func TestFindTickets_RetriesTransientErrors(t *testing.T) {
	f := newFixture(false)
	f.search.On("SearchTickets", mock.Anything, mock.Anything, 5).
		Return(nil, qa.Transient("jira.search_issues", assert.AnError, "")).Once()
	f.search.On("SearchTickets", mock.Anything, mock.Anything, 5).
		Return([]qa.TicketRef{{Key: "PROJ-9"}}, nil).Once()

	list, err := f.svc.FindTickets(context.Background(), TicketQuery{Query: "in_progress", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	f.search.AssertNumberOfCalls(t, "SearchTickets", 2)
}

func TestFindTickets_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		query   TicketQuery
		mutate  func(*Service)
		wantMsg string
	}{
		{name: "no query", query: TicketQuery{}, wantMsg: "query is required"},
		{name: "unknown query", query: TicketQuery{Query: "overdue"}, wantMsg: `unknown query "overdue"`},
		{
			name:    "no project",
			query:   TicketQuery{Query: "ready_for_qa"},
			mutate:  func(s *Service) { s.settings.Project = "" },
			wantMsg: "needs a project and user",
		},
		{
			name:    "no search port",
			query:   TicketQuery{Query: "ready_for_qa"},
			mutate:  func(s *Service) { s.reg = NewRegistry(Ports{Tickets: qatest.NewTracker(nil)}, s.settings) },
			wantMsg: "ticket search is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(false)
			if tt.mutate != nil {
				tt.mutate(f.svc)
			}
			_, err := f.svc.FindTickets(context.Background(), tt.query)
			require.Error(t, err)
			assert.Equal(t, qa.KindInvalidInput, qa.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
			f.search.AssertNotCalled(t, "SearchTickets", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestQueryNames(t *testing.T) {
	f := newFixture(false)
	assert.Equal(t, []string{"in_progress", "my_validations", "ready_for_qa"}, f.svc.QueryNames())
}

func TestCheckQueries(t *testing.T) {
	assert.NoError(t, CheckQueries(map[string]string{"ok": "project = {{quote .Project}}"}))
	assert.ErrorContains(t, CheckQueries(map[string]string{"bad": "{{quote .Project"}), "query bad")
}
