package workflow

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// StepStatus is the outcome of one workflow step.
type StepStatus string

const (
	StepSucceeded      StepStatus = "succeeded"
	StepFailed         StepStatus = "failed"
	StepSkipped        StepStatus = "skipped"
	StepNotAttempted   StepStatus = "not_attempted"
	StepAlreadyApplied StepStatus = "already_applied"
)

// StepResult records one step of a multi-step operation.
type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Report lists every step of an operation in execution order.
type Report struct {
	Operation string       `json:"operation"`
	TicketKey string       `json:"ticket_key"`
	Steps     []StepResult `json:"steps"`
}

// Succeeded returns the names of steps that took effect, including those
// found already applied.
func (r Report) Succeeded() []string {
	return r.names(StepSucceeded, StepAlreadyApplied)
}

// Failed returns the names of failed steps.
func (r Report) Failed() []string {
	return r.names(StepFailed)
}

// NotAttempted returns the names of steps skipped because an earlier one failed.
func (r Report) NotAttempted() []string {
	return r.names(StepNotAttempted)
}

// OK reports whether no step failed.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Status returns the status of the named step.
func (r Report) Status(name string) StepStatus {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}

func (r Report) names(statuses ...StepStatus) []string {
	out := []string{}
	for _, s := range r.Steps {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s.Name)
				break
			}
		}
	}
	return out
}

// PartialFailureError reports a multi-step operation that stopped at a
// failed step. Steps before it stay applied.
type PartialFailureError struct {
	Report Report
	Step   string
	Err    error
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("%s %s stopped at step %s: %v; succeeded: [%s]",
		e.Report.Operation, e.Report.TicketKey, e.Step, e.Err, strings.Join(e.Report.Succeeded(), ", "))
	if na := e.Report.NotAttempted(); len(na) > 0 {
		msg += fmt.Sprintf("; not attempted: [%s]", strings.Join(na, ", "))
	}
	return msg
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

func (e *PartialFailureError) Is(target error) bool {
	return target == qa.ErrPartialWorkflow
}

// InconclusiveError reports that deployment evidence was ambiguous and the
// ticket was left untouched.
type InconclusiveError struct {
	TicketKey string
	Reasons   []string
}

func (e *InconclusiveError) Error() string {
	return fmt.Sprintf("verification of %s inconclusive: %s", e.TicketKey, strings.Join(e.Reasons, "; "))
}

func (e *InconclusiveError) Is(target error) bool {
	return target == qa.ErrVerificationInconclusive
}
