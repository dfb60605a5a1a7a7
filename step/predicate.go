package step

// Action is the pending user action the engine is watching for, per
// spec.md §4.5's step semantics.
type Action int

const (
	ActionNone Action = iota
	ActionContinue
	ActionStepOver
	ActionStepIn
	ActionStepOut
)

// StopCheck bundles everything the step-semantics predicate needs to
// decide whether a freshly computed StepData is a stop candidate. Before
// and After refer to the call-stack depth and line at the prior UI
// snapshot and at the current step, respectively.
type StopCheck struct {
	Pending Action

	DepthBefore, DepthAfter int
	LineBefore, LineAfter   int

	// AtFunctionHeader is true when the current pc sits on a
	// FunctionDefinition header, used to skip the dispatcher shim for
	// stepOnStepIn.
	AtFunctionHeader bool

	// BreakpointLineMatch is true when a verified breakpoint in the
	// current file has LineAfter as its line.
	BreakpointLineMatch bool

	// FirstStepAfterStart is true only for the very first step event
	// following start(true).
	FirstStepAfterStart bool
}

// Evaluate returns the UI event name to emit and whether the engine
// should stop, checking stopOnEntry and stopOnBreakpoint ahead of the
// action-specific predicates since either can fire independently of
// whatever step action the user last requested.
func (c StopCheck) Evaluate() (event string, stop bool) {
	if c.FirstStepAfterStart {
		return "stopOnEntry", true
	}
	if c.BreakpointLineMatch && c.LineBefore != c.LineAfter {
		return "stopOnBreakpoint", true
	}

	switch c.Pending {
	case ActionStepOver:
		if c.DepthBefore == c.DepthAfter && c.LineBefore != c.LineAfter {
			return "stopOnStepOver", true
		}
	case ActionStepIn:
		if c.DepthAfter > c.DepthBefore && c.LineBefore != c.LineAfter && !c.AtFunctionHeader {
			return "stopOnStepIn", true
		}
	case ActionStepOut:
		if c.DepthAfter < c.DepthBefore && c.LineBefore != c.LineAfter {
			return "stopOnStepOut", true
		}
	}
	return "", false
}
