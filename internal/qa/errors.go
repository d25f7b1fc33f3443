package qa

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so surfaces can tell "nothing to report" from
// "something broke".
type Kind string

const (
	KindNotFound                 Kind = "not_found"
	KindTransient                Kind = "transient_backend_failure"
	KindPollFailure              Kind = "poll_failure"
	KindTimedOut                 Kind = "timed_out"
	KindCancelled                Kind = "cancelled"
	KindNoLinkedChange           Kind = "no_linked_change"
	KindVerificationInconclusive Kind = "verification_inconclusive"
	KindPartialWorkflowFailure   Kind = "partial_workflow_failure"
	KindInvalidInput             Kind = "invalid_input"
	KindInternal                 Kind = "internal"
)

// Severity levels, following the workflow error guidelines:
// critical failures propagate, high ones are recorded and the operation
// continues, low ones are only logged.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityLow      Severity = "low"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrTransient                = errors.New("transient backend failure")
	ErrPollFailure              = errors.New("build poll failed")
	ErrTimedOut                 = errors.New("timed out")
	ErrCancelled                = errors.New("cancelled")
	ErrNoLinkedChange           = errors.New("no linked change")
	ErrVerificationInconclusive = errors.New("verification inconclusive")
	ErrPartialWorkflow          = errors.New("partial workflow failure")
	ErrInvalidInput             = errors.New("invalid input")
)

var sentinels = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrPartialWorkflow, KindPartialWorkflowFailure},
	{ErrVerificationInconclusive, KindVerificationInconclusive},
	{ErrNoLinkedChange, KindNoLinkedChange},
	{ErrPollFailure, KindPollFailure},
	{ErrTimedOut, KindTimedOut},
	{ErrCancelled, KindCancelled},
	{ErrNotFound, KindNotFound},
	{ErrTransient, KindTransient},
}

func sentinelFor(kind Kind) error {
	for _, s := range sentinels {
		if s.kind == kind {
			return s.err
		}
	}
	return nil
}

// Error is a structured failure from an orchestration or backend operation.
type Error struct {
	Op       string   // operation that failed, e.g. "jira.get_issue"
	Kind     Kind     // taxonomy bucket
	Severity Severity // how the caller should treat it
	Err      error    // underlying error
	Context  string   // identifiers worth surfacing: ticket key, build id, ...
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Op, msg, e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := sentinelFor(e.Kind)
	return s != nil && target == s
}

// NewError creates a critical error of the given kind.
func NewError(op string, kind Kind, err error, context string) *Error {
	return &Error{
		Op:       op,
		Kind:     kind,
		Severity: SeverityCritical,
		Err:      err,
		Context:  context,
	}
}

// NotFound wraps err as an absent-upstream failure.
func NotFound(op string, err error, context string) error {
	return NewError(op, KindNotFound, err, context)
}

// Transient wraps err as a retryable backend failure.
func Transient(op string, err error, context string) error {
	return NewError(op, KindTransient, err, context)
}

// InvalidInput reports a malformed argument rejected before any remote call.
func InvalidInput(op, format string, args ...any) error {
	return NewError(op, KindInvalidInput, fmt.Errorf(format, args...), "")
}

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	return KindInternal
}

// IsRetryable reports whether a port failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// Describe returns the human-readable outcome for err's kind.
func Describe(err error) string {
	switch KindOf(err) {
	case "":
		return "ok"
	case KindNotFound:
		return "Not found upstream: " + err.Error()
	case KindTransient:
		return "Backend temporarily unavailable: " + err.Error()
	case KindPollFailure:
		return "Gave up polling the build after repeated failures: " + err.Error()
	case KindTimedOut:
		return "Build did not finish within the wait limit: " + err.Error()
	case KindCancelled:
		return "Cancelled before completion"
	case KindNoLinkedChange:
		return "No linked code change found"
	case KindVerificationInconclusive:
		return "Deployment could not be verified, ticket left unchanged: " + err.Error()
	case KindPartialWorkflowFailure:
		return "Ticket update partially applied: " + err.Error()
	case KindInvalidInput:
		return "Invalid input: " + err.Error()
	default:
		return "Unexpected failure: " + err.Error()
	}
}

// FormatForResult formats an error for a result's error list.
func FormatForResult(op string, err error) string {
	return fmt.Sprintf("%s: %v", op, err)
}
