// Package compiler shells out to the solc binary to satisfy eval.Compiler:
// the evaluator's recompile step needs fresh bytecode, a runtime source
// map, and an AST for one mutated contract source, and solc's own
// combined-json output already carries all three in one invocation.
package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/SeesePlusPlus/velma/ast"
	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/model"
)

var versionRegexp = regexp.MustCompile(`[0-9]+\.[0-9]+\.[0-9]+`)

// Solidity drives one solc binary on $PATH (or at an explicit path),
// resolved once at construction the way go-ethereum's own
// common/compiler.Solidity resolves and version-checks solc up front
// rather than on every Compile call.
type Solidity struct {
	solcPath string
	version  string
}

// New resolves solcPath (falling back to "solc" on $PATH) and records its
// reported version. It fails fast if solc cannot be found or run, since a
// broken toolchain should surface at startup, not at the first evaluate.
func New(solcPath string) (*Solidity, error) {
	if solcPath == "" {
		solcPath = "solc"
	}
	resolved, err := exec.LookPath(solcPath)
	if err != nil {
		return nil, fmt.Errorf("compiler: solc not found: %w", err)
	}

	cmd := exec.Command(resolved, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compiler: solc --version: %w", err)
	}

	return &Solidity{solcPath: resolved, version: versionRegexp.FindString(out.String())}, nil
}

// Version reports the solc version string resolved at construction.
func (s *Solidity) Version() string { return s.version }

// combinedJSON is the subset of solc's --combined-json output this package
// consumes: per-contract bytecode/source-map, plus each source file's AST
// in the legacy attributes/children node shape.
type combinedJSON struct {
	Contracts map[string]contractEntry `json:"contracts"`
	Sources   map[string]struct {
		AST solcNode `json:"AST"`
	} `json:"sources"`
}

type contractEntry struct {
	BinRuntime    string `json:"bin-runtime"`
	Bin           string `json:"bin"`
	SrcMapRuntime string `json:"srcmap-runtime"`
}

type solcNode struct {
	ID         int                    `json:"id"`
	Name       string                 `json:"name"`
	Src        string                 `json:"src"`
	Attributes map[string]interface{} `json:"attributes"`
	Children   []solcNode             `json:"children"`
}

// Compile runs solc against source (read from stdin) and returns the
// bytecode/source-map/AST for contractName, satisfying eval.Compiler.
// solc's diagnostic text is returned verbatim in err on a failed compile,
// letting the evaluator's own return-type-mismatch recovery pattern-match
// it directly.
func (s *Solidity) Compile(source []byte, contractName string) (model.CompiledContract, error) {
	cmd := exec.Command(s.solcPath, "--combined-json", "bin,bin-runtime,srcmap-runtime,ast", "--optimize")
	cmd.Stdin = bytes.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return model.CompiledContract{}, fmt.Errorf("%s", stderr.String())
	}

	var parsed combinedJSON
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return model.CompiledContract{}, fmt.Errorf("compiler: decoding combined-json: %w", err)
	}

	sourcePath, entry, err := findContract(parsed.Contracts, contractName)
	if err != nil {
		return model.CompiledContract{}, err
	}

	var root *ast.Node
	for _, file := range parsed.Sources {
		tree := toASTNode(file.AST)
		if found := findContractNode(tree, contractName); found != nil {
			root = found
			break
		}
	}
	if root == nil {
		return model.CompiledContract{}, fmt.Errorf("compiler: no ContractDefinition node named %q in solc AST output", contractName)
	}

	return model.CompiledContract{
		Name:             contractName,
		SourcePath:       sourcePath,
		CreationCode:     common.FromHex(entry.Bin),
		RuntimeCode:      common.FromHex(entry.BinRuntime),
		SourceMapRuntime: entry.SrcMapRuntime,
		AST:              root,
	}, nil
}

// findContract locates contractName's entry among solc's "path:Name" keyed
// contract map; a bare source piped on stdin is keyed under "<stdin>".
func findContract(contracts map[string]contractEntry, contractName string) (string, contractEntry, error) {
	suffix := ":" + contractName
	for key, entry := range contracts {
		if strings.HasSuffix(key, suffix) {
			return strings.TrimSuffix(key, suffix), entry, nil
		}
	}
	return "", contractEntry{}, fmt.Errorf("compiler: no output for contract %q", contractName)
}

// toASTNode translates solc's legacy id/name/src/attributes/children shape
// into ast.Node, the generic labeled-byte-range tree the rest of this
// module already queries with ast.FindContaining/ast.ScopeAt. "src" is
// "start:length:fileIndex"; a malformed one collapses to a zero range
// rather than failing the whole translation over one node.
func toASTNode(n solcNode) *ast.Node {
	start, length, file := parseSrc(n.Src)
	out := &ast.Node{ID: n.ID, Name: n.Name, Start: start, Length: length, File: file, Attributes: n.Attributes}
	out.Children = make([]*ast.Node, len(n.Children))
	for i, c := range n.Children {
		out.Children[i] = toASTNode(c)
	}
	return out
}

func parseSrc(src string) (start, length, file int) {
	parts := strings.SplitN(src, ":", 3)
	if len(parts) != 3 {
		return 0, 0, 0
	}
	start, _ = strconv.Atoi(parts[0])
	length, _ = strconv.Atoi(parts[1])
	file, _ = strconv.Atoi(parts[2])
	return
}

// findContractNode walks tree for the ContractDefinition node named name.
func findContractNode(tree *ast.Node, name string) *ast.Node {
	var found *ast.Node
	ast.Walk(tree, func(n *ast.Node) bool {
		if n.Name == "ContractDefinition" && n.StringAttr("name") == name {
			found = n
			return false
		}
		return true
	})
	return found
}
