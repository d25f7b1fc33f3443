package qatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// Tracker is an in-memory qa.TicketPort that behaves like an issue tracker:
// transitions move tickets between statuses and are rejected when the ticket
// is already in the target status.
type Tracker struct {
	mu          sync.Mutex
	tickets     map[string]*qa.TicketRef
	transitions map[string]string
	comments    map[string][]string
	failures    map[string]error
	calls       []string
}

// NewTracker creates a tracker. transitions maps transition id to the status it
// moves a ticket into.
func NewTracker(transitions map[string]string, tickets ...qa.TicketRef) *Tracker {
	t := &Tracker{
		tickets:     make(map[string]*qa.TicketRef),
		transitions: transitions,
		comments:    make(map[string][]string),
		failures:    make(map[string]error),
	}
	for i := range tickets {
		ticket := tickets[i]
		t.tickets[ticket.Key] = &ticket
	}
	return t
}

// FailOn makes the named call fail. Names are "get", "comment",
// "field:<name>" and "transition:<id>".
func (t *Tracker) FailOn(call string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[call] = err
}

// Ticket returns a copy of the stored ticket.
func (t *Tracker) Ticket(key string) qa.TicketRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket, ok := t.tickets[key]; ok {
		return *ticket
	}
	return qa.TicketRef{}
}

// Comments returns comments added to key.
func (t *Tracker) Comments(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.comments[key]...)
}

// Calls returns the mutating calls in order.
func (t *Tracker) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *Tracker) Get(_ context.Context, key string) (*qa.TicketRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures["get"]; err != nil {
		return nil, err
	}
	ticket, ok := t.tickets[key]
	if !ok {
		return nil, qa.NotFound("tracker.get", fmt.Errorf("issue %s does not exist", key), key)
	}
	cp := *ticket
	return &cp, nil
}

func (t *Tracker) SetFields(_ context.Context, key string, fields map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticket, ok := t.tickets[key]
	if !ok {
		return qa.NotFound("tracker.set_fields", fmt.Errorf("issue %s does not exist", key), key)
	}
	for name, value := range fields {
		if err := t.failures["field:"+name]; err != nil {
			return err
		}
		s := fmt.Sprint(value)
		switch name {
		case qa.FieldAssignee:
			ticket.Assignee = s
		case qa.FieldValidator:
			ticket.Validator = s
		case qa.FieldTestResult:
			ticket.TestResult = s
		default:
			return fmt.Errorf("unknown field %q", name)
		}
		t.calls = append(t.calls, "field:"+name)
	}
	return nil
}

func (t *Tracker) Transition(_ context.Context, key, transitionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures["transition:"+transitionID]; err != nil {
		return err
	}
	ticket, ok := t.tickets[key]
	if !ok {
		return qa.NotFound("tracker.transition", fmt.Errorf("issue %s does not exist", key), key)
	}
	target, ok := t.transitions[transitionID]
	if !ok {
		return fmt.Errorf("transition %s is not valid", transitionID)
	}
	if ticket.Status == target {
		return fmt.Errorf("transition %s is not valid from status %s", transitionID, ticket.Status)
	}
	ticket.Status = target
	t.calls = append(t.calls, "transition:"+transitionID)
	return nil
}

func (t *Tracker) AddComment(_ context.Context, key, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failures["comment"]; err != nil {
		return err
	}
	if _, ok := t.tickets[key]; !ok {
		return qa.NotFound("tracker.add_comment", fmt.Errorf("issue %s does not exist", key), key)
	}
	t.comments[key] = append(t.comments[key], text)
	t.calls = append(t.calls, "comment")
	return nil
}
