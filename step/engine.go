// Package step implements the step engine: turning a raw per-instruction
// VM event into a StepData snapshot, maintaining the reconstructed logical
// call stack, freezing variable positions on first observation, and
// deciding whether a given VM event is a stop candidate for the pending
// user action.
package step

import (
	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/srcmap"
)

// Event is one per-instruction notification from the VM adapter.
type Event struct {
	RequestID string
	Address   common.Address
	PC        uint64
	Stack     []common.Word
	Memory    []byte
	GasLeft   uint64
}

// Evaluator is the narrow slice of the evaluator (C6) the step engine
// needs: whether an evaluation is in progress and waiting on a specific
// function's return, and how to deliver that return value once observed.
type Evaluator interface {
	PendingFunctionName() (string, bool)
	Resolve(topOfStack common.Word)
}

// Engine rebuilds StepData on every event and tracks the logical call
// stack implied by jump-in/jump-out source map entries.
type Engine struct {
	program *model.Program
	eval    Evaluator

	callStack []model.StackFrame

	havePrev bool
	prevLoc  srcmap.Entry
	prevPC   uint64
	prevLine int
}

// New returns a step engine bound to a program model and an evaluator
// sink. eval may be nil if no evaluation can ever be in progress.
func New(program *model.Program, eval Evaluator) *Engine {
	return &Engine{program: program, eval: eval}
}

// CallDepth returns the current logical call-stack depth.
func (e *Engine) CallDepth() int { return len(e.callStack) }

// CallStack returns a snapshot of the current logical call stack,
// innermost (most recently pushed) last.
func (e *Engine) CallStack() []model.StackFrame {
	out := make([]model.StackFrame, len(e.callStack))
	copy(out, e.callStack)
	return out
}

// Process consumes one VM step event, updates the call stack, and returns
// the fresh StepData. ok is false for a model-gap event (unlinked address
// or a pc with no source mapping): the returned StepData carries a null
// source location and the step engine must not treat it as a stop
// candidate.
func (e *Engine) Process(ev Event) (model.StepData, bool) {
	contract := e.contractAt(ev.Address)
	if contract == nil {
		return e.ack(ev), false
	}

	idx, ok := contract.PCMap[ev.PC]
	if !ok {
		return e.ack(ev), false
	}
	loc, ok := contract.SourceMap.AtIndex(idx)
	if !ok {
		return e.ack(ev), false
	}

	file := e.program.Files[contract.SourcePath]
	var line, col int
	if file != nil {
		line, col = file.LineBreaks.LineColumn(loc.Start)
	}

	e.updateCallStack(contract, ev, loc, line)
	scope := ast.ScopeAt(contract.AST, loc.Start)
	e.observeDeclaration(contract, loc, scope, len(ev.Stack))

	data := model.StepData{
		RequestID:        ev.RequestID,
		InstructionIndex: idx,
		Location:         loc,
		Line:             line,
		Column:           col,
		Address:          ev.Address,
		Stack:            ev.Stack,
		Memory:           ev.Memory,
		GasLeft:          ev.GasLeft,
		Scope:            scope,
	}

	e.havePrev = true
	e.prevLoc = loc
	e.prevPC = ev.PC
	e.prevLine = line
	return data, true
}

func (e *Engine) ack(ev Event) model.StepData {
	return model.StepData{RequestID: ev.RequestID, Address: ev.Address, Stack: ev.Stack, Memory: ev.Memory, GasLeft: ev.GasLeft}
}

func (e *Engine) contractAt(address common.Address) *model.Contract {
	for _, c := range e.program.Contracts {
		if c.IsLinked() && c.Address == address {
			return c
		}
	}
	return nil
}

// updateCallStack applies the call-stack update rule using the *previous*
// step's source location, per spec: a push on jump-in or on landing at a
// function entry pc, a pop (with evaluator return-value delivery, if one
// is pending) on jump-out.
func (e *Engine) updateCallStack(contract *model.Contract, ev Event, loc srcmap.Entry, line int) {
	if !e.havePrev {
		return
	}

	switch e.prevLoc.Jump {
	case srcmap.JumpIn:
		fn := ast.FindContaining(contract.AST, e.prevLoc.Start, e.prevLoc.Length, "FunctionDefinition")
		frame := model.StackFrame{SourceFile: contract.SourcePath, Line: e.prevLine, PC: e.prevPC}
		if fn != nil {
			frame.FunctionName = fn.StringAttr("name")
		}
		e.callStack = append(e.callStack, frame)
		return

	case srcmap.JumpOut:
		if e.eval != nil && len(e.callStack) > 0 {
			top := e.callStack[len(e.callStack)-1]
			if name, pending := e.eval.PendingFunctionName(); pending && name == top.FunctionName && len(ev.Stack) > 0 {
				e.eval.Resolve(ev.Stack[len(ev.Stack)-1])
			}
		}
		if len(e.callStack) > 0 {
			e.callStack = e.callStack[:len(e.callStack)-1]
		}
		return
	}

	if selector, ok := contract.FunctionEntryMap[ev.PC]; ok {
		e.callStack = append(e.callStack, model.StackFrame{
			FunctionName: "entry:" + selector,
			SourceFile:   contract.SourcePath,
			Line:         line,
			PC:           ev.PC,
		})
	}
}

// observeDeclaration freezes the matching variable's position the first
// time execution reaches its VariableDeclaration node, searching the
// current scope chain outward so a shadowing inner declaration is never
// confused with an outer variable of the same name.
func (e *Engine) observeDeclaration(contract *model.Contract, loc srcmap.Entry, scope []ast.ScopeFrame, stackLen int) {
	node := ast.FindContaining(contract.AST, loc.Start, loc.Length, "VariableDeclaration")
	if node == nil {
		return
	}
	name := node.StringAttr("name")
	if name == "" {
		return
	}
	for _, frame := range scope {
		bucket, ok := contract.ScopeVariables[frame.ASTID]
		if !ok {
			continue
		}
		if v, ok := bucket[name]; ok && !v.Frozen() {
			v.Freeze(uint64(stackLen))
			// Storage variables are placed eagerly at link time; stack and
			// memory variables can only be placed now that their position
			// is known.
			if v.Location == decode.LocationStack || v.Location == decode.LocationMemory {
				decode.ApplyPositions(v.Detail, v.Location, nil)
			}
			return
		}
	}
}
