// Package eval implements the evaluator (C6): synthesizing a wrapper
// function for a user expression, recompiling the owning contract with it
// spliced in, injecting the new runtime bytecode into the live VM, and
// recovering the return value when the wrapper's call returns.
package eval

import (
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/model"
)

// Compiler is the external compiler toolchain collaborator: given mutated
// source for one contract, produce fresh bytecode, a runtime source map,
// and an AST. A failed compile returns the compiler's raw diagnostic
// text in err, which the evaluator pattern-matches for a recoverable
// return-type mismatch.
type Compiler interface {
	Compile(source []byte, contractName string) (model.CompiledContract, error)
}

// Injector issues the VM adapter's putCodeRequest: replace a contract's
// live runtime bytecode and resume execution at pc.
type Injector interface {
	InjectCode(address common.Address, runtimeCode []byte, pc uint64)
}

// BreakpointInstaller installs the invisible breakpoint the evaluator
// arms immediately after the spliced reference call, so the step engine
// can hand control back to Resolve when it's hit.
type BreakpointInstaller interface {
	InstallInvisible(path string, line int) error
}

// Callback receives the decoded result string, or an error if the
// evaluation could not be completed.
type Callback func(value string, err error)

// pendingEvaluation tracks the single in-flight evaluation; the
// evaluator rejects a second Evaluate call while one is outstanding, per
// spec.md §4.6 step 1.
type pendingEvaluation struct {
	functionName       string
	expectedReturnType string
	callback           Callback
	contractName       string
}
