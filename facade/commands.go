// Package facade implements the client facade (C8): the coarse,
// UI-facing API (start, continue, step×, stack, variables, setBreakpoint,
// clearBreakpoints, evaluate, ping) exposed as framed JSON over a
// persistent connection, and the event push (stopOn*, breakpointValidated,
// end) in the other direction.
package facade

import (
	"errors"

	"github.com/SeesePlusPlus/velma/model"
)

// ErrReverseUnsupported is returned by ContinueReverse and StepBack: per
// spec.md §1's Non-goals, reverse execution is never implemented. The
// error surfaces to the UI client through the envelope's error field like
// any other Commands failure.
var ErrReverseUnsupported = errors.New("facade: reverse execution is not supported")

// Variable is the facade's display-ready view of one in-scope variable or
// one child of a composite value: a decoded string plus the reference a
// client uses to request this node's own children, 0 for leaves.
type Variable struct {
	Name               string
	Value              string
	VariablesReference int
}

// Commands is everything the facade needs from the engine: one method per
// operation spec.md §2 assigns to the client facade. Defined here, the
// consuming package, and satisfied by engine.Engine — the same
// interface-inversion shape already used for breakpoint.Sender and
// step.Evaluator.
//
// The single-pending-action buffering spec.md §5 describes ("a user
// command issued while the VM is running is buffered... applied at the
// next pause") is implemented by whichever Commands implementation owns
// run/pause state — here, engine.Engine — not by Session, which only
// ever forwards one call per inbound frame and has no run-state of its
// own.
type Commands interface {
	Start(stopOnEntry bool) error
	Continue() error
	ContinueReverse() error
	StepOver() error
	StepBack() error
	StepIn() error
	StepOut() error

	Stack(startFrame, endFrame int) ([]model.StackFrame, error)
	Variables(variablesReference int) ([]Variable, error)
	SetBreakpoint(path string, line int) (*model.Breakpoint, error)
	ClearBreakpoints(path string) error
	Evaluate(expression, context string, frameID int) (string, error)
}

// EventSink receives the facade's own server-initiated events before they
// are framed and written to the UI client. Session implements this;
// defined here (the producer) for symmetry with Commands. engine.Engine
// holds one and calls Emit.
type EventSink interface {
	Emit(event string, args ...interface{})
}
