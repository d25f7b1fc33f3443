package buildwait

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Wait states.
const (
	StatePending    = "pending"
	StatePolling    = "polling"
	StateCompleted  = "completed"
	StateTimedOut   = "timed_out"
	StateCancelled  = "cancelled"
	StatePollFailed = "poll_failed"
)

const (
	eventStart     = "start"
	eventTerminal  = "build_terminal"
	eventDeadline  = "deadline_reached"
	eventCancel    = "cancel"
	eventPollError = "poll_error"
)

// waitContext carries identifiers for the lifetime of one wait.
type waitContext struct {
	BuildID string
}

// lifecycle tracks one wait through its states:
//
//	pending -> polling -> completed | timed_out | cancelled | poll_failed
//
// Cancellation is accepted from pending as well as polling.
type lifecycle struct {
	interpreter *statekit.Interpreter[waitContext]
}

func startLifecycle(buildID string) (*lifecycle, error) {
	builder := statekit.NewMachine[waitContext]("build-wait").
		WithInitial(statekit.StateID(StatePending)).
		WithContext(waitContext{BuildID: buildID})

	builder.State(StatePending).
		On(eventStart).Target(StatePolling).
		On(eventCancel).Target(StateCancelled).
		Done()

	builder.State(StatePolling).
		On(eventTerminal).Target(StateCompleted).
		On(eventDeadline).Target(StateTimedOut).
		On(eventCancel).Target(StateCancelled).
		On(eventPollError).Target(StatePollFailed).
		Done()

	builder.State(StateCompleted).Done()
	builder.State(StateTimedOut).Done()
	builder.State(StateCancelled).Done()
	builder.State(StatePollFailed).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build wait state machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &lifecycle{interpreter: interp}, nil
}

func (l *lifecycle) send(event string) {
	l.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
}

func (l *lifecycle) current() string {
	return string(l.interpreter.State().Value)
}
