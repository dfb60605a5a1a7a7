package model

import (
	"bytes"
	"fmt"

	astpkg "github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/asm"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/SeesePlusPlus/velma/srcmap"
	"github.com/holiman/uint256"
)

// CompiledContract is one contract as reported by the compiler toolchain,
// the external collaborator that produces bytecode, a source map, and an
// AST subtree per contract.
type CompiledContract struct {
	Name             string
	SourcePath       string
	CreationCode     []byte
	RuntimeCode      []byte
	SourceMapRuntime string
	AST              *astpkg.Node
}

// CompilationResult is the full output of one compiler invocation: every
// contract it produced, plus the source text of every file referenced.
type CompilationResult struct {
	Contracts []CompiledContract
	Sources   map[string][]byte
}

// Program is the engine's whole in-memory model: the file map and contract
// map, each keyed the way the rest of the engine addresses them (by path,
// by name), never by pointer into the other.
type Program struct {
	Files     map[string]*File
	Contracts map[string]*Contract

	structResolver decode.StructResolver
}

// NewProgram returns an empty program. resolver is consulted whenever a
// variable's type descriptor names a struct; it may be nil if the
// compiler output never declares one.
func NewProgram(resolver decode.StructResolver) *Program {
	return &Program{
		Files:          make(map[string]*File),
		Contracts:      make(map[string]*Contract),
		structResolver: resolver,
	}
}

// LinkCompilerOutput builds the program model from a fresh compilation in
// a single pass: one File per source path, one Contract per compiled
// contract, pc/selector tables from the runtime bytecode, and a
// scopeVariables index built by walking the contract's AST subtree.
func (p *Program) LinkCompilerOutput(result CompilationResult) error {
	for _, cc := range result.Contracts {
		file, ok := p.Files[cc.SourcePath]
		if !ok {
			src := result.Sources[cc.SourcePath]
			file = &File{
				Path:        cc.SourcePath,
				Source:      src,
				LineBreaks:  srcmap.ComputeLineBreaks(src),
				LineOffsets: make(map[int]int),
			}
			p.Files[cc.SourcePath] = file
		}
		file.ContractNames = append(file.ContractNames, cc.Name)

		contract := &Contract{
			Name:             cc.Name,
			SourcePath:       cc.SourcePath,
			CreationCode:     cc.CreationCode,
			RuntimeCode:      cc.RuntimeCode,
			SourceMapRuntime: cc.SourceMapRuntime,
			SourceMap:        srcmap.Parse(cc.SourceMapRuntime),
			PCMap:            asm.BuildPCMap(cc.RuntimeCode),
			FunctionEntryMap: asm.FunctionEntryMap(cc.RuntimeCode),
			AST:              cc.AST,
			ScopeVariables:   make(map[int]map[string]*Variable),
		}
		p.Contracts[cc.Name] = contract

		if err := p.IndexVariables(contract); err != nil {
			return fmt.Errorf("model: linking %s: %w", cc.Name, err)
		}
	}
	return nil
}

// IndexVariables walks a contract's AST looking for VariableDeclaration
// nodes, resolves each to a Variable keyed by its declaring scope, and
// assigns storage slots to state variables eagerly since those are static
// (sequential packing in declaration order), unlike stack/memory
// positions which are only known once observed at runtime. It overwrites
// c.ScopeVariables; callers that need to preserve frozen positions across
// a re-walk (the evaluator's compile-mutate-reinject loop) must carry
// them forward themselves by comparing the old and new maps.
func (p *Program) IndexVariables(c *Contract) error {
	if c.AST == nil {
		return nil
	}

	var stateVars []decode.StructMember
	var stateVarDecls []*Variable

	astpkg.Walk(c.AST, func(n *astpkg.Node) bool {
		if n.Name != "VariableDeclaration" {
			return true
		}
		name := n.StringAttr("name")
		typeName := n.StringAttr("type")
		if name == "" || typeName == "" {
			return true
		}

		chain := astpkg.ScopeAt(c.AST, n.Start)
		scope := declaringScope(chain, n.ID)
		isState := isStateVariable(chain)

		loc := decode.LocationStack
		if isState {
			loc = decode.LocationStorage
		}

		v := &Variable{
			Name:           name,
			TypeName:       typeName,
			DeclaringScope: scope,
			Location:       loc,
		}

		detail, err := decode.ParseType(typeName, p.structResolver)
		if err == nil {
			v.Detail = detail
			if isState {
				stateVars = append(stateVars, decode.StructMember{Name: name, Detail: detail})
				stateVarDecls = append(stateVarDecls, v)
			}
		}

		bucket := c.ScopeVariables[scope.ASTID]
		if bucket == nil {
			bucket = make(map[string]*Variable)
			c.ScopeVariables[scope.ASTID] = bucket
		}
		bucket[name] = v
		return true
	})

	if len(stateVars) > 0 {
		// Pack every state variable sequentially starting at slot 0 by
		// reusing the struct-member packing cursor: a contract's state
		// variables pack exactly the way a struct's fields do.
		synthetic := &decode.Detail{Kind: decode.KindStruct, StructMembers: stateVars}
		decode.ApplyPositions(synthetic, decode.LocationStorage, uint256.NewInt(0))
		for i, v := range stateVarDecls {
			slot := synthetic.StructMembers[i].Detail.Slot
			if slot != nil {
				pos := slot.Uint64()
				v.Freeze(pos)
			}
		}
	}

	return nil
}

// declaringScope returns the nearest enclosing scope of a declaration,
// skipping the declaration's own frame (chain[0] is always the
// declaration itself, since its own range contains its own start).
func declaringScope(chain []astpkg.ScopeFrame, selfID int) astpkg.ScopeFrame {
	for _, f := range chain {
		if f.ASTID != selfID {
			return f
		}
	}
	if len(chain) > 0 {
		return chain[0]
	}
	return astpkg.ScopeFrame{}
}

// isStateVariable reports whether a declaration sits directly in the
// contract body, judged by scope-chain depth alone.
func isStateVariable(chain []astpkg.ScopeFrame) bool {
	// chain is innermost-first, and ScopeFrame carries only ids, not node
	// kinds, so the decision is made by depth: depth 2 (self + contract
	// body) or less is a state variable, anything deeper is not.
	return len(chain) <= 2
}

// LinkContractAddress binds a deployed address to a contract, either by
// name (the common case, from a linkContractAddress trigger) or, when no
// name is supplied (a bare newContract trigger), by matching the supplied
// runtime bytecode against every unlinked contract's own runtime code.
func (p *Program) LinkContractAddress(name string, address common.Address, runtimeCodeForMatch []byte) (*Contract, error) {
	if name != "" {
		c, ok := p.Contracts[name]
		if !ok {
			return nil, fmt.Errorf("model: no contract named %q", name)
		}
		c.Address = address
		return c, nil
	}

	for _, c := range p.Contracts {
		if c.IsLinked() {
			continue
		}
		if bytes.Equal(c.RuntimeCode, runtimeCodeForMatch) {
			c.Address = address
			return c, nil
		}
	}
	return nil, fmt.Errorf("model: no unlinked contract matches the deployed runtime bytecode")
}

// ContractsInFile returns every contract declared in the given file.
func (p *Program) ContractsInFile(path string) []*Contract {
	f, ok := p.Files[path]
	if !ok {
		return nil
	}
	out := make([]*Contract, 0, len(f.ContractNames))
	for _, name := range f.ContractNames {
		if c, ok := p.Contracts[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// StructResolverFromProgram returns a decode.StructResolver backed by p's
// own contract ASTs: it looks up the named contract, walks its AST for a
// StructDefinition of the given name, and reports each member
// VariableDeclaration's name and type in declaration order. The returned
// resolver closes over p by pointer, so it is safe to build before p is
// fully populated (NewProgram's resolver argument is itself consulted no
// earlier than the first IndexVariables call that follows).
func StructResolverFromProgram(p *Program) decode.StructResolver {
	return func(contract, name string) ([]decode.StructField, error) {
		c, ok := p.Contracts[contract]
		if !ok || c.AST == nil {
			return nil, fmt.Errorf("model: unknown contract %q for struct %q", contract, name)
		}

		var fields []decode.StructField
		var found bool
		astpkg.Walk(c.AST, func(n *astpkg.Node) bool {
			if found || n.Name != "StructDefinition" || n.StringAttr("name") != name {
				return !found
			}
			found = true
			for _, member := range n.Children {
				if member.Name != "VariableDeclaration" {
					continue
				}
				fields = append(fields, decode.StructField{Name: member.StringAttr("name"), Type: member.StringAttr("type")})
			}
			return false
		})
		if !found {
			return nil, fmt.Errorf("model: no struct %q declared on contract %q", name, contract)
		}
		return fields, nil
	}
}
