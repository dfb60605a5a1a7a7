package eval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/SeesePlusPlus/velma/model"
	"github.com/SeesePlusPlus/velma/srcmap"
)

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

var reservedWords = map[string]bool{
	"true": true, "false": true, "if": true, "else": true, "for": true,
	"while": true, "return": true, "function": true, "this": true,
	"msg": true, "block": true, "tx": true, "require": true, "revert": true,
}

// ExtractIdentifiers returns every distinct identifier-looking token in
// expr, in first-seen order, excluding reserved words and built-in
// globals the evaluator never treats as user variables.
func ExtractIdentifiers(expr string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range identifierPattern.FindAllString(expr, -1) {
		if reservedWords[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// WrapperArg is one typed parameter of a synthesized wrapper function.
type WrapperArg struct {
	Name string
	Type string
}

// SynthesizeWrapper builds the wrapper function declaration and its
// reference call, per spec.md §4.6 step 4. returnType defaults to "bool"
// and is rewritten by the compile-mutate-reinject loop if the compiler
// reports a different type is actually returned.
func SynthesizeWrapper(name string, args []WrapperArg, returnType, expression string) (funcSrc, callSrc string) {
	params := make([]string, len(args))
	argNames := make([]string, len(args))
	for i, a := range args {
		params[i] = fmt.Sprintf("%s %s", a.Type, a.Name)
		argNames[i] = a.Name
	}
	funcSrc = fmt.Sprintf("function %s(%s) returns (%s) { return %s; }",
		name, strings.Join(params, ", "), returnType, expression)
	callSrc = fmt.Sprintf("%s(%s);", name, strings.Join(argNames, ", "))
	return funcSrc, callSrc
}

// insertion is one pending text splice at a fixed byte offset into the
// pre-splice source.
type insertion struct {
	offset int
	text   string
}

// SpliceResult carries the mutated source and the line-number deltas the
// caller must fold into the owning file's lineOffsets, breakpoints, and
// stack frames.
type SpliceResult struct {
	Source      []byte
	LineDeltas  map[int]int
	CallLine    int // the mutated-source line the reference call now sits on
}

// Splice inserts callSrc immediately before currentLine and funcSrc
// immediately after the first line break following "contract
// <contractName>", per spec.md §4.6 step 5.
func Splice(file *model.File, contractName string, currentLine int, funcSrc, callSrc string) (SpliceResult, error) {
	marker := "contract " + contractName
	markerIdx := strings.Index(string(file.Source), marker)
	if markerIdx < 0 {
		return SpliceResult{}, fmt.Errorf("eval: contract %q not found in source", contractName)
	}
	nlIdx := strings.IndexByte(string(file.Source[markerIdx:]), '\n')
	if nlIdx < 0 {
		return SpliceResult{}, fmt.Errorf("eval: no line break found after %q", marker)
	}
	funcOffset := markerIdx + nlIdx + 1

	callStart, _ := file.LineBreaks.LineByteRange(currentLine)

	funcLine, _ := file.LineBreaks.LineColumn(funcOffset)
	funcText := funcSrc + "\n"
	callText := callSrc + "\n"

	inserts := []insertion{
		{offset: funcOffset, text: funcText},
		{offset: callStart, text: callText},
	}
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].offset > inserts[j].offset })

	mutated := append([]byte(nil), file.Source...)
	for _, ins := range inserts {
		mutated = append(mutated[:ins.offset:ins.offset], append([]byte(ins.text), mutated[ins.offset:]...)...)
	}

	deltas := map[int]int{
		funcLine:    strings.Count(funcText, "\n"),
		currentLine: strings.Count(callText, "\n"),
	}

	callLine := currentLine
	if funcLine < currentLine {
		callLine += deltas[funcLine] // the body splice, if earlier, pushes the call line down too
	}

	return SpliceResult{
		Source:     mutated,
		LineDeltas: deltas,
		CallLine:   callLine,
	}, nil
}

// ApplyLineDeltas folds a splice's line deltas into a file's lineOffsets
// and shifts every breakpoint line recorded against it by this splice's
// own deltas. bp.Line is already expressed in the current mutated-source
// numbering (it was produced either at SetBreakpoint time or by an
// earlier ApplyLineDeltas call), so only the newly-added deltas are
// applied here — running it back through file.TranslateLine would
// re-apply every delta already baked into bp.Line from prior splices.
func ApplyLineDeltas(file *model.File, deltas map[int]int) {
	if file.LineOffsets == nil {
		file.LineOffsets = make(map[int]int)
	}
	for line, delta := range deltas {
		file.LineOffsets[line] += delta
	}
	file.LineBreaks = srcmap.ComputeLineBreaks(file.Source)

	for _, bp := range file.Breakpoints {
		bp.Line = shiftLine(bp.Line, deltas)
	}
}

// shiftLine sums every entry of deltas recorded at or before line,
// mirroring model.File.TranslateLine's summing rule but scoped to a
// single splice's deltas rather than a file's full cumulative history.
func shiftLine(line int, deltas map[int]int) int {
	shifted := line
	for at, delta := range deltas {
		if at <= line {
			shifted += delta
		}
	}
	return shifted
}
