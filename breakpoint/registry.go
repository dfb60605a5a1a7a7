// Package breakpoint implements the breakpoint registry: setting,
// resolving, and clearing breakpoints against the program model, and the
// VM adapter messages that keep the live VM's breakpoint table in sync.
package breakpoint

import (
	"fmt"

	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/srcmap"
)

func toSrcEntry(n *ast.Node) srcmap.Entry {
	return srcmap.Entry{Start: n.Start, Length: n.Length, File: n.File, Jump: srcmap.JumpNone}
}

// Sender issues the two VM adapter requests the registry needs: install
// or clear a runtime breakpoint at a bound (address, pc), and tell the
// client the breakpoint's resolved state changed.
type Sender interface {
	SendBreakpoint(id int, address common.Address, pc uint64, enabled bool, isRuntime bool)
	BreakpointValidated(bp *model.Breakpoint)
}

// Registry owns breakpoint id assignment and resolution against a
// program's files and contracts.
type Registry struct {
	program *model.Program
	sender  Sender
	nextID  int
}

// New returns a registry bound to a program model and its VM adapter sink.
func New(program *model.Program, sender Sender) *Registry {
	return &Registry{program: program, sender: sender, nextID: 1}
}

// SetBreakpoint appends a fresh breakpoint to the owning file and attempts
// to resolve it immediately against every already-linked contract in that
// file. If originalSource is true, line is first translated forward
// through the file's lineOffsets.
func (r *Registry) SetBreakpoint(path string, line int, visible bool, originalSource bool) (*model.Breakpoint, error) {
	file, ok := r.program.Files[path]
	if !ok {
		return nil, fmt.Errorf("breakpoint: unknown file %q", path)
	}

	resolvedLine := line
	if originalSource {
		resolvedLine = file.TranslateLine(line)
	}

	bp := &model.Breakpoint{
		ID:             r.nextID,
		Path:           path,
		Line:           resolvedLine,
		Visible:        visible,
		OriginalSource: originalSource,
	}
	r.nextID++
	file.Breakpoints = append(file.Breakpoints, bp)

	r.resolve(file, bp)
	return bp, nil
}

// ClearBreakpoint removes one breakpoint by id, always telling the VM to
// disable it even if it never resolved to a binding.
func (r *Registry) ClearBreakpoint(path string, id int) {
	file, ok := r.program.Files[path]
	if !ok {
		return
	}
	var bp *model.Breakpoint
	kept := file.Breakpoints[:0]
	for _, b := range file.Breakpoints {
		if b.ID == id {
			bp = b
			continue
		}
		kept = append(kept, b)
	}
	file.Breakpoints = kept
	r.disable(bp)
}

// ClearBreakpoints removes every breakpoint in a file, disabling each of
// its bindings (or, for never-resolved breakpoints, sending the disable
// with no binding) before emptying the vector.
func (r *Registry) ClearBreakpoints(path string) {
	file, ok := r.program.Files[path]
	if !ok {
		return
	}
	for _, bp := range file.Breakpoints {
		r.disable(bp)
	}
	file.Breakpoints = nil
}

// ResolveForContract re-attempts resolution of every unresolved or
// partially resolved breakpoint in a contract's source file, called after
// linkContractAddress binds a fresh address.
func (r *Registry) ResolveForContract(c *model.Contract) {
	file, ok := r.program.Files[c.SourcePath]
	if !ok {
		return
	}
	for _, bp := range file.Breakpoints {
		r.resolveAgainst(file, bp, c)
	}
}

func (r *Registry) disable(bp *model.Breakpoint) {
	if bp == nil {
		return
	}
	if len(bp.Bindings) == 0 {
		r.sender.SendBreakpoint(bp.ID, common.Address{}, 0, false, true)
		return
	}
	for _, b := range bp.Bindings {
		r.sender.SendBreakpoint(bp.ID, b.Address, b.PC, false, true)
	}
}

func (r *Registry) resolve(file *model.File, bp *model.Breakpoint) {
	for _, name := range file.ContractNames {
		c, ok := r.program.Contracts[name]
		if !ok || !c.IsLinked() {
			continue
		}
		r.resolveAgainst(file, bp, c)
	}
}

// resolveAgainst binds bp to c if it isn't already bound there: locate the
// first AST node starting within the target line's byte range, translate
// its source location to an instruction index, and scan the contract's
// pcMap for the first pc with a matching index.
func (r *Registry) resolveAgainst(file *model.File, bp *model.Breakpoint, c *model.Contract) {
	for _, b := range bp.Bindings {
		if b.Address == c.Address {
			return // already bound to this contract's address
		}
	}

	start, end := file.LineBreaks.LineByteRange(bp.Line)
	if end == -1 {
		end = len(file.Source)
	}

	node := ast.FindStartingIn(c.AST, start, end, "*")
	if node == nil {
		// No node starts within this line; nothing to bind yet.
		return
	}

	idx, ok := c.SourceMap.ToIndex(toSrcEntry(node))
	if !ok {
		return
	}

	var pc uint64
	found := false
	for candidatePC, candidateIdx := range c.PCMap {
		if candidateIdx == idx {
			if !found || candidatePC < pc {
				pc = candidatePC
				found = true
			}
		}
	}
	if !found {
		return
	}

	bp.Bindings = append(bp.Bindings, model.Binding{Address: c.Address, PC: pc})
	bp.Verified = true
	r.sender.SendBreakpoint(bp.ID, c.Address, pc, true, true)
	r.sender.BreakpointValidated(bp)
}
