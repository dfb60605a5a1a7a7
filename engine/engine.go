// Package engine is the explicit orchestrator spec.md §9 calls for in
// place of a global-singleton runtime: one Engine value owns the program
// model, the breakpoint registry, the step engine, and the evaluator, and
// is the single point both the VM adapter transport and the client facade
// transport are wired around. It implements breakpoint.Sender (so the
// registry can talk to the VM), adapter.TriggerHandler (so the VM can
// talk to it), and facade.Commands (so the UI client can talk to it).
package engine

import (
	"context"

	"github.com/SeesePlusPlus/velma/adapter"
	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/breakpoint"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/eval"
	"github.com/SeesePlusPlus/velma/facade"
	"github.com/SeesePlusPlus/velma/log"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/step"
)

// VMAdapter is the narrow slice of the VM adapter client the engine
// drives: acknowledging or resuming steps, injecting recompiled bytecode,
// reading storage, and keeping the VM's breakpoint/declaration tables in
// sync. Defined here, the consumer, per the interface-inversion
// convention used throughout this module; *adapter.Client satisfies it
// structurally.
type VMAdapter interface {
	AckStep(requestID string, fastStep bool) error
	InjectCode(address common.Address, runtimeCode []byte, pc uint64)
	GetStorage(slot common.Word) (common.Word, error)
	SendBreakpoint(id int, address common.Address, pc uint64, enabled, isRuntime bool)
	SendDeclarations(address common.Address, decls []adapter.Declaration)
	SendJumpDestinations(address common.Address, pcs []uint64)
}

// job is one unit of serialized work; done is closed once fn has run,
// letting the enqueueing goroutine block for completion the way a
// synchronous RPC client would, without the dispatch loop itself ever
// blocking on anything but the next inbound job or VM response.
type job struct {
	fn   func()
	done chan struct{}
}

// variableRef is what a lazily-assigned variablesReference points back
// to: a detail node plus the runtime position its parent variable was
// frozen at, needed to decode a Stack/Memory-located child (Storage
// children carry an absolute slot already and need no base).
type variableRef struct {
	detail   *decode.Detail
	location decode.Location
	base     uint64
}

// Engine is the single orchestrating value spec.md §9's "explicit engine
// value threaded through component constructors" design note calls for.
type Engine struct {
	program  *model.Program
	registry *breakpoint.Registry
	stepEng  *step.Engine
	evalr    *eval.Evaluator
	vm       VMAdapter
	ui       facade.EventSink
	logger   log.Logger

	triggerJobs chan job
	commandJobs chan job

	running         bool
	awaitingEntry   bool
	pendingAction   step.Action
	bufferedAction  *step.Action
	pausedRequestID string

	actionDepth int
	actionLine  int

	current model.StepData

	varRefs    map[int]variableRef
	nextVarRef int
}

// New returns an engine bound to the program model, its breakpoint/step/
// eval collaborators, the VM adapter connection, and the UI event sink.
// logger may be nil, in which case log output is discarded.
func New(program *model.Program, registry *breakpoint.Registry, stepEng *step.Engine, evalr *eval.Evaluator, vm VMAdapter, ui facade.EventSink, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.New()
		logger.SetHandler(log.DiscardHandler())
	}
	return &Engine{
		program:     program,
		registry:    registry,
		stepEng:     stepEng,
		evalr:       evalr,
		vm:          vm,
		ui:          ui,
		logger:      logger,
		triggerJobs: make(chan job),
		commandJobs: make(chan job),
		varRefs:     make(map[int]variableRef),
	}
}

// Wiring the engine to its collaborators is circular: the breakpoint
// registry and the evaluator both need a Sender/Injector back into the
// engine at their own construction, and the VM adapter client and UI
// session both need a TriggerHandler/Commands (the engine itself) at
// theirs. cmd/sdb breaks the cycle the same way engine's own tests do:
// construct the engine first with nil collaborators, build each
// collaborator against it, then backfill with these setters before
// starting any goroutine that could actually use them.

// SetRegistry backfills the breakpoint registry built against this engine.
func (e *Engine) SetRegistry(registry *breakpoint.Registry) { e.registry = registry }

// SetStepEngine backfills the step engine built against this engine's
// evaluator.
func (e *Engine) SetStepEngine(stepEng *step.Engine) { e.stepEng = stepEng }

// SetEvaluator backfills the evaluator built against this engine.
func (e *Engine) SetEvaluator(evalr *eval.Evaluator) { e.evalr = evalr }

// SetVM backfills the VM adapter connection once it has dialed in.
func (e *Engine) SetVM(vm VMAdapter) { e.vm = vm }

// SetEventSink backfills the UI client connection once it has dialed in.
func (e *Engine) SetEventSink(ui facade.EventSink) { e.ui = ui }

// Run is the single-threaded dispatch loop spec.md §5 describes: it
// selects over one inbound channel per external collaborator so that,
// even though the VM adapter and the UI client each deliver messages from
// their own goroutine, every mutation of engine state happens on this one
// goroutine and the engine is quiescent between messages. It returns when
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case j := <-e.triggerJobs:
			j.fn()
			close(j.done)
		case j := <-e.commandJobs:
			j.fn()
			close(j.done)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) enqueueTrigger(fn func()) {
	done := make(chan struct{})
	e.triggerJobs <- job{fn: fn, done: done}
	<-done
}

func (e *Engine) enqueueCommand(fn func()) {
	done := make(chan struct{})
	e.commandJobs <- job{fn: fn, done: done}
	<-done
}

// HandleAdapterDisconnect is called once the VM adapter's connection
// drops (adapter.Client.Run returning): the fatal error kind (taxonomy
// #6), surfaced as an `end` event, never as a torn-down process.
func (e *Engine) HandleAdapterDisconnect(err error) {
	e.enqueueTrigger(func() {
		e.logger.Info("engine: VM adapter disconnected", "err", err)
		e.ui.Emit("end")
	})
}

func (e *Engine) contractAt(address common.Address) *model.Contract {
	for _, c := range e.program.Contracts {
		if c.IsLinked() && c.Address == address {
			return c
		}
	}
	return nil
}

func (e *Engine) sendDeclarationsAndJumps(c *model.Contract) {
	var decls []adapter.Declaration
	for _, bucket := range c.ScopeVariables {
		for name, v := range bucket {
			decls = append(decls, adapter.Declaration{Name: name, Type: v.TypeName, Location: v.Location.String()})
		}
	}
	e.vm.SendDeclarations(c.Address, decls)

	var pcs []uint64
	for pc := range c.FunctionEntryMap {
		pcs = append(pcs, pc)
	}
	e.vm.SendJumpDestinations(c.Address, pcs)
}

// --- breakpoint.Sender -------------------------------------------------

func (e *Engine) SendBreakpoint(id int, address common.Address, pc uint64, enabled, isRuntime bool) {
	e.vm.SendBreakpoint(id, address, pc, enabled, isRuntime)
}

func (e *Engine) BreakpointValidated(bp *model.Breakpoint) {
	e.ui.Emit("breakpointValidated", bp.ID, bp.Path, bp.Line)
}

// --- eval.Injector / eval.BreakpointInstaller --------------------------

func (e *Engine) InjectCode(address common.Address, runtimeCode []byte, pc uint64) {
	e.vm.InjectCode(address, runtimeCode, pc)
}

func (e *Engine) InstallInvisible(path string, line int) error {
	_, err := e.registry.SetBreakpoint(path, line, false, false)
	return err
}

// --- adapter.TriggerHandler ---------------------------------------------

func (e *Engine) LinkCompilerOutput(sourceRootPath string, result model.CompilationResult) {
	e.enqueueTrigger(func() {
		if err := e.program.LinkCompilerOutput(result); err != nil {
			e.logger.Error("engine: linking compiler output", "err", err)
		}
	})
}

func (e *Engine) LinkContractAddress(contractName string, address common.Address) {
	e.enqueueTrigger(func() {
		c, err := e.program.LinkContractAddress(contractName, address, nil)
		if err != nil {
			e.logger.Error("engine: linking contract address", "contract", contractName, "err", err)
			return
		}
		e.registry.ResolveForContract(c)
		e.sendDeclarationsAndJumps(c)
	})
}

func (e *Engine) NewContract(code []byte, address common.Address) {
	e.enqueueTrigger(func() {
		c, err := e.program.LinkContractAddress("", address, code)
		if err != nil {
			e.logger.Error("engine: linking deployed contract", "address", address, "err", err)
			return
		}
		e.registry.ResolveForContract(c)
		e.sendDeclarationsAndJumps(c)
	})
}

func (e *Engine) Exception(message string) {
	e.enqueueTrigger(func() {
		e.ui.Emit("exception", message)
	})
}

func (e *Engine) Step(requestID string, ev step.Event) {
	e.enqueueTrigger(func() {
		e.handleStep(requestID, ev)
	})
}

// handleStep turns one VM step into a fresh StepData, evaluates the
// pending action's stop predicate against it, and either leaves the VM
// paused (a stop) or acknowledges it (a miss), per spec.md §4.5 and §5's
// "ack for step n before n+1 is consumed" ordering rule — guaranteed here
// simply by running to completion before this job's done channel closes,
// which is what gates adapter.Client.Run from reading the next frame.
func (e *Engine) handleStep(requestID string, ev step.Event) {
	data, ok := e.stepEng.Process(ev)
	if !ok {
		if err := e.vm.AckStep(requestID, true); err != nil {
			e.logger.Error("engine: ack step failed", "err", err)
		}
		return
	}

	check := step.StopCheck{
		Pending:             e.pendingAction,
		DepthBefore:         e.actionDepth,
		DepthAfter:          e.stepEng.CallDepth(),
		LineBefore:          e.actionLine,
		LineAfter:           data.Line,
		AtFunctionHeader:    e.atFunctionHeader(data),
		BreakpointLineMatch: e.breakpointLineMatches(data),
		FirstStepAfterStart: e.awaitingEntry,
	}
	e.awaitingEntry = false
	event, stop := check.Evaluate()
	e.current = data

	if stop {
		e.running = false
		e.pendingAction = step.ActionNone
		e.pausedRequestID = requestID
		e.ui.Emit(event, data.Line, data.Address.Hex())
		e.applyBufferedAction()
		return
	}

	if err := e.vm.AckStep(requestID, true); err != nil {
		e.logger.Error("engine: ack step failed", "err", err)
	}
}

// applyBufferedAction implements spec.md §5's single-pending-command
// buffering rule: a command issued while the VM was running is held until
// the next pause, then applied immediately.
func (e *Engine) applyBufferedAction() {
	if e.bufferedAction == nil {
		return
	}
	action := *e.bufferedAction
	e.bufferedAction = nil
	e.beginAction(action)
}

// beginAction arms the step predicate for action at the current position
// and, if a step was left unacknowledged by a prior stop, resumes the VM.
func (e *Engine) beginAction(action step.Action) {
	e.pendingAction = action
	e.actionDepth = e.stepEng.CallDepth()
	e.actionLine = e.current.Line
	e.running = true
	if e.pausedRequestID != "" {
		id := e.pausedRequestID
		e.pausedRequestID = ""
		if err := e.vm.AckStep(id, true); err != nil {
			e.logger.Error("engine: resuming paused step failed", "err", err)
		}
	}
}

// atFunctionHeader reports whether the current step's source location
// begins exactly at the enclosing function's own declaration node, the
// dispatcher-shim instant stepOnStepIn must skip per predicate.go.
func (e *Engine) atFunctionHeader(data model.StepData) bool {
	c := e.contractAt(data.Address)
	if c == nil {
		return false
	}
	fn := ast.FindContaining(c.AST, data.Location.Start, data.Location.Length, "FunctionDefinition")
	return fn != nil && fn.Start == data.Location.Start
}

// breakpointLineMatches reports whether a verified breakpoint in the
// current contract's source file sits on the step's current line.
func (e *Engine) breakpointLineMatches(data model.StepData) bool {
	c := e.contractAt(data.Address)
	if c == nil {
		return false
	}
	file, ok := e.program.Files[c.SourcePath]
	if !ok {
		return false
	}
	for _, bp := range file.Breakpoints {
		if bp.Verified && bp.Line == data.Line {
			return true
		}
	}
	return false
}
