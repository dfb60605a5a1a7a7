package engine

import (
	"fmt"

	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/eval"
	"github.com/SeesePlusPlus/velma/facade"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/step"
)

// Start arms stopOnEntry (if requested) for the very first step event the
// VM delivers; the VM itself is already running independently of this
// call, so Start only seeds the predicate the first step checks against.
func (e *Engine) Start(stopOnEntry bool) error {
	e.enqueueCommand(func() {
		e.awaitingEntry = stopOnEntry
		e.running = true
		e.pendingAction = step.ActionNone
	})
	return nil
}

func (e *Engine) Continue() error        { return e.applyOrBuffer(step.ActionNone) }
func (e *Engine) ContinueReverse() error { return facade.ErrReverseUnsupported }
func (e *Engine) StepOver() error        { return e.applyOrBuffer(step.ActionStepOver) }
func (e *Engine) StepBack() error        { return facade.ErrReverseUnsupported }
func (e *Engine) StepIn() error          { return e.applyOrBuffer(step.ActionStepIn) }
func (e *Engine) StepOut() error         { return e.applyOrBuffer(step.ActionStepOut) }

// applyOrBuffer implements the single-pending-command buffering rule:
// while the VM is already running toward a prior action or breakpoint,
// this one is held and applied at the next pause instead of being acted
// on immediately.
func (e *Engine) applyOrBuffer(action step.Action) error {
	e.enqueueCommand(func() {
		if e.running {
			e.bufferedAction = &action
			return
		}
		e.beginAction(action)
	})
	return nil
}

func (e *Engine) Stack(startFrame, endFrame int) ([]model.StackFrame, error) {
	var out []model.StackFrame
	e.enqueueCommand(func() {
		frames := e.stepEng.CallStack()
		innermostFirst := make([]model.StackFrame, len(frames))
		for i, f := range frames {
			innermostFirst[len(frames)-1-i] = f
		}
		if startFrame < 0 {
			startFrame = 0
		}
		if endFrame <= 0 || endFrame > len(innermostFirst) {
			endFrame = len(innermostFirst)
		}
		if startFrame > endFrame {
			startFrame = endFrame
		}
		out = innermostFirst[startFrame:endFrame]
	})
	return out, nil
}

// Variables implements lazy expansion: ref 0 returns every frozen
// variable visible in the current scope chain; a nonzero ref returns the
// children of whichever composite detail node was previously handed out
// under that id.
func (e *Engine) Variables(variablesReference int) ([]facade.Variable, error) {
	var out []facade.Variable
	var outErr error
	e.enqueueCommand(func() {
		if variablesReference == 0 {
			out, outErr = e.rootVariables()
			return
		}
		out, outErr = e.childVariables(variablesReference)
	})
	return out, outErr
}

func (e *Engine) rootVariables() ([]facade.Variable, error) {
	contract := e.contractAt(e.current.Address)
	if contract == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []facade.Variable
	for _, frame := range e.current.Scope {
		bucket, ok := contract.ScopeVariables[frame.ASTID]
		if !ok {
			continue
		}
		for name, v := range bucket {
			if seen[name] || !v.Frozen() {
				continue
			}
			seen[name] = true
			val, err := e.decodeDetail(v.Detail, v.Location, *v.Position)
			if err != nil {
				return nil, err
			}
			out = append(out, facade.Variable{
				Name:               name,
				Value:              val,
				VariablesReference: e.refFor(v.Detail, v.Location, *v.Position),
			})
		}
	}
	return out, nil
}

func (e *Engine) childVariables(ref int) ([]facade.Variable, error) {
	entry, ok := e.varRefs[ref]
	if !ok {
		return nil, fmt.Errorf("engine: unknown variablesReference %d", ref)
	}
	d := entry.detail

	var out []facade.Variable
	addChild := func(name string, child *decode.Detail) error {
		val, err := e.decodeDetail(child, entry.location, entry.base)
		if err != nil {
			return err
		}
		out = append(out, facade.Variable{
			Name:               name,
			Value:              val,
			VariablesReference: e.refFor(child, entry.location, entry.base),
		})
		return nil
	}

	switch d.Kind {
	case decode.KindStruct:
		for _, m := range d.StructMembers {
			if err := addChild(m.Name, m.Detail); err != nil {
				return nil, err
			}
		}
	case decode.KindArray:
		for i, m := range d.Members {
			if err := addChild(fmt.Sprintf("[%d]", i), m); err != nil {
				return nil, err
			}
		}
	case decode.KindMapping:
		// No enumerable children without an explicit key; use evaluate.
	}
	return out, nil
}

func (e *Engine) decodeDetail(d *decode.Detail, loc decode.Location, base uint64) (string, error) {
	switch loc {
	case decode.LocationStorage:
		return decode.Decode(d, e.vm)
	case decode.LocationStack:
		return decode.DecodeStack(d, e.current.Stack, int(base))
	case decode.LocationMemory:
		return decode.DecodeMemory(d, e.current.Memory, base)
	default:
		return "(unsupported location)", nil
	}
}

// refFor lazily assigns a composite detail node its own id on first
// expansion, per decode.Detail.VariablesReference's own contract: zero
// for leaves, the node's own id otherwise.
func (e *Engine) refFor(d *decode.Detail, loc decode.Location, base uint64) int {
	if d == nil || !d.IsComposite() {
		return 0
	}
	if d.ID == 0 {
		e.nextVarRef++
		d.ID = e.nextVarRef
	}
	e.varRefs[d.ID] = variableRef{detail: d, location: loc, base: base}
	return d.ID
}

func (e *Engine) SetBreakpoint(path string, line int) (*model.Breakpoint, error) {
	var bp *model.Breakpoint
	var err error
	e.enqueueCommand(func() {
		bp, err = e.registry.SetBreakpoint(path, line, true, true)
	})
	return bp, err
}

func (e *Engine) ClearBreakpoints(path string) error {
	e.enqueueCommand(func() {
		e.registry.ClearBreakpoints(path)
	})
	return nil
}

type evalResult struct {
	value string
	err   error
}

// Evaluate kicks off the evaluator's compile-mutate-reinject loop and
// waits for its callback, but does not do so from inside a job: the
// callback only fires once a later Step trigger observes the synthesized
// wrapper's return, and that trigger is processed by this same engine's
// dispatch loop, so blocking the loop here would deadlock against itself.
func (e *Engine) Evaluate(expression, context string, frameID int) (string, error) {
	resultCh := make(chan evalResult, 1)
	var startErr error
	e.enqueueCommand(func() {
		req := eval.Request{
			Expression:   expression,
			ContextHint:  context,
			ContractName: e.currentContractName(),
			CurrentLine:  e.current.Line,
			CurrentPC:    e.currentPC(),
			Scope:        e.current.Scope,
			StackLen:     len(e.current.Stack),
		}
		startErr = e.evalr.Evaluate(req, func(value string, err error) {
			resultCh <- evalResult{value: value, err: err}
		})
		if startErr != nil {
			resultCh <- evalResult{err: startErr}
		}
	})
	res := <-resultCh
	return res.value, res.err
}

func (e *Engine) currentContractName() string {
	c := e.contractAt(e.current.Address)
	if c == nil {
		return ""
	}
	return c.Name
}

func (e *Engine) currentPC() uint64 {
	c := e.contractAt(e.current.Address)
	if c == nil {
		return 0
	}
	for pc, idx := range c.PCMap {
		if idx == e.current.InstructionIndex {
			return pc
		}
	}
	return 0
}
