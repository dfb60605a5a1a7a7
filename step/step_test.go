package step

import (
	"testing"

	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/srcmap"
	"github.com/stretchr/testify/require"
)

// buildNestedCallProgram models `outer() { inner(); } inner() { return; }`:
// one call site in outer (instruction index 0, jump "i"), one entry
// instruction in inner (index 1), one exit instruction in inner (index 2,
// jump "o"), and the statement immediately after the call in outer
// (index 3) where control lands back.
func buildNestedCallProgram() (*model.Program, *model.Contract, common.Address) {
	root := &ast.Node{ID: 1, Name: "ContractDefinition", Start: 0, Length: 200, Children: []*ast.Node{
		{ID: 2, Name: "FunctionDefinition", Start: 10, Length: 80,
			Attributes: map[string]interface{}{"name": "outer"},
			Children: []*ast.Node{
				{ID: 3, Name: "Block", Start: 20, Length: 60, Children: []*ast.Node{
					{ID: 4, Name: "ExpressionStatement", Start: 30, Length: 10},
					{ID: 8, Name: "ExpressionStatement", Start: 40, Length: 5},
				}},
			}},
		{ID: 5, Name: "FunctionDefinition", Start: 100, Length: 50,
			Attributes: map[string]interface{}{"name": "inner"},
			Children: []*ast.Node{
				{ID: 6, Name: "Block", Start: 110, Length: 30, Children: []*ast.Node{
					{ID: 7, Name: "ReturnStatement", Start: 115, Length: 5},
				}},
			}},
	}}

	src := make([]byte, 200)
	for _, brk := range []int{25, 50, 75, 100, 125, 150, 175} {
		src[brk] = '\n'
	}
	file := &model.File{Path: "C.sol", Source: src, LineBreaks: srcmap.ComputeLineBreaks(src)}

	addr := common.HexToAddress("0x0000000000000000000000000000000000000009")
	c := &model.Contract{
		Name:       "C",
		SourcePath: "C.sol",
		Address:    addr,
		AST:        root,
		SourceMap: srcmap.Map{
			{Start: 30, Length: 10, Jump: srcmap.JumpIn},
			{Start: 115, Length: 5, Jump: srcmap.JumpNone},
			{Start: 115, Length: 5, Jump: srcmap.JumpOut},
			{Start: 40, Length: 5, Jump: srcmap.JumpNone},
		},
		PCMap:            map[uint64]int{5: 0, 6: 1, 7: 2, 8: 3},
		FunctionEntryMap: map[uint64]string{},
		ScopeVariables:   make(map[int]map[string]*model.Variable),
	}

	p := &model.Program{
		Files:     map[string]*model.File{"C.sol": file},
		Contracts: map[string]*model.Contract{"C": c},
	}
	return p, c, addr
}

func TestStepEngineUnlinkedAddressIsModelGap(t *testing.T) {
	p, _, _ := buildNestedCallProgram()
	e := New(p, nil)
	_, ok := e.Process(Event{RequestID: "1", Address: common.HexToAddress("0x00000000000000000000000000000000000000ff"), PC: 5})
	require.False(t, ok)
}

func TestStepEngineCallStackPushAndPopAcrossNestedCall(t *testing.T) {
	p, _, addr := buildNestedCallProgram()
	e := New(p, nil)

	// Step 1: the call site itself, jump "i" recorded for the *next* step.
	_, ok := e.Process(Event{RequestID: "1", Address: addr, PC: 5, Stack: []common.Word{{}}})
	require.True(t, ok)
	require.Equal(t, 0, e.CallDepth())

	// Step 2: first instruction inside inner; the push happens here.
	_, ok = e.Process(Event{RequestID: "2", Address: addr, PC: 6, Stack: []common.Word{{}}})
	require.True(t, ok)
	require.Equal(t, 1, e.CallDepth())
	require.Equal(t, "outer", e.CallStack()[0].FunctionName)

	depthAtBreak := e.CallDepth()

	// Step 3: last instruction inside inner, jump "o" recorded for the next step.
	data3, ok := e.Process(Event{RequestID: "3", Address: addr, PC: 7, Stack: []common.Word{{}}})
	require.True(t, ok)
	require.Equal(t, 1, e.CallDepth())

	// Step 4: back in outer; the pop happens here, and this is the
	// stopOnStepOut instant per end-to-end scenario #3.
	data4, ok := e.Process(Event{RequestID: "4", Address: addr, PC: 8, Stack: []common.Word{{}}})
	require.True(t, ok)
	require.Equal(t, 0, e.CallDepth())

	check := StopCheck{
		Pending:     ActionStepOut,
		DepthBefore: depthAtBreak,
		DepthAfter:  e.CallDepth(),
		LineBefore:  data3.Line,
		LineAfter:   data4.Line,
	}
	event, stop := check.Evaluate()
	require.True(t, stop)
	require.Equal(t, "stopOnStepOut", event)
}

func TestStepEngineFreezesVariableOnFirstObservation(t *testing.T) {
	root := &ast.Node{ID: 1, Name: "ContractDefinition", Start: 0, Length: 50, Children: []*ast.Node{
		{ID: 2, Name: "VariableDeclaration", Start: 5, Length: 5,
			Attributes: map[string]interface{}{"name": "y", "type": "uint256"}},
	}}
	src := make([]byte, 50)
	file := &model.File{Path: "C.sol", Source: src, LineBreaks: srcmap.ComputeLineBreaks(src)}
	addr := common.HexToAddress("0x0000000000000000000000000000000000000009")
	yVar := &model.Variable{Name: "y", TypeName: "uint256"}
	c := &model.Contract{
		Name: "C", SourcePath: "C.sol", Address: addr, AST: root,
		SourceMap:        srcmap.Map{{Start: 5, Length: 5, Jump: srcmap.JumpNone}},
		PCMap:            map[uint64]int{1: 0},
		FunctionEntryMap: map[uint64]string{},
		ScopeVariables:   map[int]map[string]*model.Variable{1: {"y": yVar}},
	}
	p := &model.Program{Files: map[string]*model.File{"C.sol": file}, Contracts: map[string]*model.Contract{"C": c}}

	e := New(p, nil)
	require.False(t, yVar.Frozen())
	_, ok := e.Process(Event{RequestID: "1", Address: addr, PC: 1, Stack: []common.Word{{}, {}, {}}})
	require.True(t, ok)
	require.True(t, yVar.Frozen())
	require.Equal(t, uint64(3), *yVar.Position)
}

func TestStopCheckEntryTakesPriority(t *testing.T) {
	check := StopCheck{FirstStepAfterStart: true, Pending: ActionContinue}
	event, stop := check.Evaluate()
	require.True(t, stop)
	require.Equal(t, "stopOnEntry", event)
}

func TestStopCheckStepOverRequiresSameDepth(t *testing.T) {
	check := StopCheck{Pending: ActionStepOver, DepthBefore: 1, DepthAfter: 2, LineBefore: 1, LineAfter: 2}
	_, stop := check.Evaluate()
	require.False(t, stop, "depth changed, so this is stepIn territory not stepOver")
}

func TestStopCheckStepInSkipsFunctionHeader(t *testing.T) {
	check := StopCheck{Pending: ActionStepIn, DepthBefore: 0, DepthAfter: 1, LineBefore: 1, LineAfter: 2, AtFunctionHeader: true}
	_, stop := check.Evaluate()
	require.False(t, stop)
}

func TestStopCheckBreakpointRearmsOnLeave(t *testing.T) {
	check := StopCheck{BreakpointLineMatch: true, LineBefore: 5, LineAfter: 5}
	_, stop := check.Evaluate()
	require.False(t, stop, "line unchanged means we never left the breakpoint line, so it must not re-fire")
}
