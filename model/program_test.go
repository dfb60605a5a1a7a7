package model

import (
	"testing"

	astpkg "github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/asm"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/decode"
	"github.com/stretchr/testify/require"
)

func sampleContractAST() *astpkg.Node {
	declX := &astpkg.Node{ID: 2, Name: "VariableDeclaration", Start: 10, Length: 10,
		Attributes: map[string]interface{}{"name": "x", "type": "uint256"}}
	declY := &astpkg.Node{ID: 5, Name: "VariableDeclaration", Start: 32, Length: 10,
		Attributes: map[string]interface{}{"name": "y", "type": "uint256"}}
	body := &astpkg.Node{ID: 4, Name: "Block", Start: 30, Length: 40, Children: []*astpkg.Node{declY}}
	fn := &astpkg.Node{ID: 3, Name: "FunctionDefinition", Start: 25, Length: 50,
		Attributes: map[string]interface{}{"name": "f"}, Children: []*astpkg.Node{body}}
	root := &astpkg.Node{ID: 1, Name: "ContractDefinition", Start: 0, Length: 100,
		Children: []*astpkg.Node{declX, fn}}
	return root
}

func sampleRuntimeCode() []byte {
	return []byte{
		byte(asm.DUP1), byte(asm.PUSH4), 0xaa, 0xbb, 0xcc, 0xdd, byte(asm.EQ), byte(asm.PUSH1), 0x20,
		byte(asm.JUMPDEST), byte(asm.STOP),
	}
}

func sampleCompilation() CompilationResult {
	return CompilationResult{
		Sources: map[string][]byte{
			"C.sol": []byte("contract C {\n  uint256 x;\n  function f() public {\n    uint256 y;\n  }\n}\n"),
		},
		Contracts: []CompiledContract{
			{
				Name:             "C",
				SourcePath:       "C.sol",
				CreationCode:     []byte{0x60, 0x80},
				RuntimeCode:      sampleRuntimeCode(),
				SourceMapRuntime: "0:10:0:-;5:4:0:i;9:2:0:o",
				AST:              sampleContractAST(),
			},
		},
	}
}

func TestLinkCompilerOutputBuildsFileAndContract(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))

	file, ok := p.Files["C.sol"]
	require.True(t, ok)
	require.Equal(t, []string{"C"}, file.ContractNames)
	require.NotEmpty(t, file.LineBreaks)

	c, ok := p.Contracts["C"]
	require.True(t, ok)
	require.Len(t, c.SourceMap, 3)
	require.NotEmpty(t, c.PCMap)
	require.Equal(t, map[uint64]string{0x20: "aabbccdd"}, c.FunctionEntryMap)
}

func TestLinkCompilerOutputIndexesStateAndLocalVariables(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))
	c := p.Contracts["C"]

	// x is a state variable declared directly in the contract body (scope
	// id 1, the ContractDefinition) and must be frozen at link time.
	xVar := c.ScopeVariables[1]["x"]
	require.NotNil(t, xVar)
	require.Equal(t, "uint256", xVar.TypeName)
	require.True(t, xVar.Frozen())
	require.Equal(t, uint64(0), *xVar.Position)

	// y is a local declared inside f's block (scope id 4) and must not be
	// frozen until the step engine observes it at runtime.
	yVar := c.ScopeVariables[4]["y"]
	require.NotNil(t, yVar)
	require.False(t, yVar.Frozen())
}

func TestLinkContractAddressByName(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))

	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	c, err := p.LinkContractAddress("C", addr, nil)
	require.NoError(t, err)
	require.True(t, c.IsLinked())
	require.Equal(t, addr, c.Address)
}

func TestLinkContractAddressByBytecodeMatch(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))

	addr := common.HexToAddress("0x0000000000000000000000000000000000000002")
	c, err := p.LinkContractAddress("", addr, sampleRuntimeCode())
	require.NoError(t, err)
	require.Equal(t, "C", c.Name)
	require.Equal(t, addr, c.Address)
}

func TestLinkContractAddressUnknownName(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))
	_, err := p.LinkContractAddress("Nope", common.Address{}, nil)
	require.Error(t, err)
}

func TestContractsInFile(t *testing.T) {
	p := NewProgram(nil)
	require.NoError(t, p.LinkCompilerOutput(sampleCompilation()))
	contracts := p.ContractsInFile("C.sol")
	require.Len(t, contracts, 1)
	require.Equal(t, "C", contracts[0].Name)
}

func TestTranslateLineSumsOffsetsAtOrBefore(t *testing.T) {
	f := &File{LineOffsets: map[int]int{2: 1, 5: 2}}
	require.Equal(t, 1, f.TranslateLine(1))
	require.Equal(t, 3, f.TranslateLine(2))
	require.Equal(t, 9, f.TranslateLine(6))
}

func contractWithStruct() *astpkg.Node {
	fieldA := &astpkg.Node{ID: 3, Name: "VariableDeclaration", Attributes: map[string]interface{}{"name": "a", "type": "uint256"}}
	fieldB := &astpkg.Node{ID: 4, Name: "VariableDeclaration", Attributes: map[string]interface{}{"name": "b", "type": "address"}}
	def := &astpkg.Node{ID: 2, Name: "StructDefinition", Start: 10, Length: 40,
		Attributes: map[string]interface{}{"name": "S"}, Children: []*astpkg.Node{fieldA, fieldB}}
	return &astpkg.Node{ID: 1, Name: "ContractDefinition", Start: 0, Length: 100, Children: []*astpkg.Node{def}}
}

func TestStructResolverFromProgramResolvesDeclaredFields(t *testing.T) {
	p := NewProgram(nil)
	p.Contracts["C"] = &Contract{Name: "C", AST: contractWithStruct()}

	resolver := StructResolverFromProgram(p)
	fields, err := resolver("C", "S")
	require.NoError(t, err)
	require.Equal(t, []decode.StructField{{Name: "a", Type: "uint256"}, {Name: "b", Type: "address"}}, fields)
}

func TestStructResolverFromProgramUnknownStruct(t *testing.T) {
	p := NewProgram(nil)
	p.Contracts["C"] = &Contract{Name: "C", AST: contractWithStruct()}

	resolver := StructResolverFromProgram(p)
	_, err := resolver("C", "Missing")
	require.Error(t, err)
}
