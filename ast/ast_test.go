package ast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTree() *Node {
	// contract C { function f() { uint x; { uint y; } } }
	decl := &Node{ID: 4, Name: "VariableDeclaration", Start: 30, Length: 6}
	inner := &Node{ID: 5, Name: "Block", Start: 40, Length: 12, Children: []*Node{
		{ID: 6, Name: "VariableDeclaration", Start: 42, Length: 6},
	}}
	body := &Node{ID: 3, Name: "Block", Start: 20, Length: 40, Children: []*Node{decl, inner}}
	fn := &Node{ID: 2, Name: "FunctionDefinition", Start: 10, Length: 60, Children: []*Node{body}}
	root := &Node{ID: 1, Name: "ContractDefinition", Start: 0, Length: 100, Children: []*Node{fn}}
	return root
}

func TestWalkVisitsEveryNode(t *testing.T) {
	var names []string
	Walk(sampleTree(), func(n *Node) bool {
		names = append(names, n.Name)
		return true
	})
	require.Equal(t, []string{
		"ContractDefinition", "FunctionDefinition", "Block",
		"VariableDeclaration", "Block", "VariableDeclaration",
	}, names)
}

func TestWalkSkipsChildrenWhenVisitorReturnsFalse(t *testing.T) {
	var names []string
	Walk(sampleTree(), func(n *Node) bool {
		names = append(names, n.Name)
		return n.Name != "FunctionDefinition"
	})
	require.Equal(t, []string{"ContractDefinition", "FunctionDefinition"}, names)
}

func TestFindContainingPicksInnermost(t *testing.T) {
	root := sampleTree()
	found := FindContaining(root, 42, 6, "*")
	require.NotNil(t, found)
	require.Equal(t, 6, found.ID)
}

func TestFindContainingFiltersByKind(t *testing.T) {
	root := sampleTree()
	found := FindContaining(root, 42, 6, "Block")
	require.NotNil(t, found)
	require.Equal(t, 5, found.ID, "innermost enclosing Block, not the VariableDeclaration itself")
}

func TestFindContainingNoMatch(t *testing.T) {
	root := sampleTree()
	require.Nil(t, FindContaining(root, 0, 1000, "VariableDeclaration"))
}

func TestScopeAtOrdersInnermostFirst(t *testing.T) {
	root := sampleTree()
	chain := ScopeAt(root, 44)
	ids := make([]int, len(chain))
	for i, f := range chain {
		ids[i] = f.ASTID
	}
	require.Equal(t, []int{6, 5, 3, 2, 1}, ids)
}

func TestScopeAtDepthsIncreaseWithNesting(t *testing.T) {
	root := sampleTree()
	chain := ScopeAt(root, 44)
	// chain is innermost-first; depth must decrease monotonically walking outward.
	for i := 1; i < len(chain); i++ {
		require.Less(t, chain[i].Depth, chain[i-1].Depth)
	}
}

func TestScopeAtOffsetOutsideTreeIsEmpty(t *testing.T) {
	root := sampleTree()
	require.Empty(t, ScopeAt(root, 500))
}
