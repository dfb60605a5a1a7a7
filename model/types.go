// Package model holds the data model shared by every other engine
// component: files, contracts, variables, breakpoints, call-stack frames,
// and the volatile per-step snapshot. Per the cyclic-data design note, a
// File never holds a pointer back into a Contract or vice versa — both
// reference each other only by string key into the Program's maps.
package model

import (
	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/srcmap"
)

// File is one source file: its text, its line-break table, the names of
// the contracts declared in it, and its breakpoints.
type File struct {
	Path          string
	Source        []byte
	LineBreaks    srcmap.LineBreaks
	ContractNames []string
	Breakpoints   []*Breakpoint
	// LineOffsets maps an original-source line to the number of lines
	// inserted above it by evaluator splices, so original-source line
	// numbers can be translated into the current mutated source.
	LineOffsets map[int]int
}

// TranslateLine converts an original-source line number into the current
// mutated-source line number by summing every offset recorded at or
// before it.
func (f *File) TranslateLine(originalLine int) int {
	line := originalLine
	for at, delta := range f.LineOffsets {
		if at <= originalLine {
			line += delta
		}
	}
	return line
}

// ScopeKey identifies a named variable within one lexical scope.
type ScopeKey struct {
	ASTID int
	Name  string
}

// Contract is one deployed-or-deployable contract: its bytecode, its
// runtime source map and derived pc/selector tables, its AST subtree, and
// the variables visible in each of its lexical scopes.
type Contract struct {
	Name         string
	SourcePath   string
	Address      common.Address // zero until linked
	CreationCode []byte
	RuntimeCode  []byte

	SourceMapRuntime string
	SourceMap        srcmap.Map
	PCMap            map[uint64]int    // pc -> instruction index
	FunctionEntryMap map[uint64]string // entry pc -> selector hex

	AST            *ast.Node
	ScopeVariables map[int]map[string]*Variable // ast scope id -> name -> Variable
}

// IsLinked reports whether this contract has been bound to a deployed
// address yet.
func (c *Contract) IsLinked() bool { return !c.Address.IsZero() }

// Variable is one declared variable: its name, its textual type, the
// scope it was declared in, where its value lives, and (once observed at
// runtime) its frozen position.
type Variable struct {
	Name     string
	TypeName string

	DeclaringScope ast.ScopeFrame
	Location       decode.Location

	// Position is nil until first observed at a VariableDeclaration step,
	// per the freeze-on-first-observation invariant. For Stack variables
	// it holds the stack depth at declaration time; for Memory variables
	// the base pointer; for Storage variables it is set eagerly at link
	// time to the variable's packed storage slot.
	Position *uint64

	Detail *decode.Detail
}

// Frozen reports whether this variable's position has been observed yet.
func (v *Variable) Frozen() bool { return v.Position != nil }

// Freeze records the variable's position the first time it is observed,
// and is a no-op on every subsequent call, per the freeze invariant.
func (v *Variable) Freeze(position uint64) {
	if v.Position != nil {
		return
	}
	v.Position = &position
}

// Binding is one VM-side install of a breakpoint: the contract address and
// program counter it was translated to.
type Binding struct {
	Address common.Address
	PC      uint64
}

// Breakpoint is a user- or evaluator-installed stop point.
type Breakpoint struct {
	ID             int
	Path           string
	Line           int
	Verified       bool
	Visible        bool
	OriginalSource bool
	Bindings       []Binding
}

// StackFrame is one entry of the reconstructed logical call stack.
type StackFrame struct {
	FunctionName string
	SourceFile   string
	Line         int
	PC           uint64
}

// StepData is the volatile snapshot rebuilt wholesale on every VM step
// event; nothing in it survives past the next event.
type StepData struct {
	RequestID        string
	InstructionIndex int
	Location         srcmap.Entry
	Line, Column     int
	Address          common.Address
	Stack            []common.Word
	Memory           []byte
	GasLeft          uint64
	Scope            []ast.ScopeFrame
}
