package eval

import (
	"testing"

	"github.com/SeesePlusPlus/velma/model"
	"github.com/stretchr/testify/require"
)

func TestShiftLineAppliesOnlyDeltasAtOrBeforeLine(t *testing.T) {
	deltas := map[int]int{3: 2, 8: 1}
	require.Equal(t, 13, shiftLine(10, deltas))
	require.Equal(t, 9, shiftLine(7, deltas))
	require.Equal(t, 2, shiftLine(2, deltas))
}

// TestApplyLineDeltasSecondSpliceOnlyAppliesItsOwnDeltas reproduces a
// breakpoint surviving two sequential Evaluate calls against the same
// file: a first splice pushes a breakpoint at original line 10 down to
// mutated line 13, and a second, later splice adding its own deltas must
// shift that already-mutated line by only its own deltas (+3), not by
// every delta the file has ever accumulated (which would double-count
// the first splice's +3).
func TestApplyLineDeltasSecondSpliceOnlyAppliesItsOwnDeltas(t *testing.T) {
	file := &model.File{LineOffsets: make(map[int]int), Source: []byte("contract C {}\n")}
	bp := &model.Breakpoint{ID: 1, Line: 10}
	file.Breakpoints = []*model.Breakpoint{bp}

	ApplyLineDeltas(file, map[int]int{3: 2, 8: 1})
	require.Equal(t, 13, bp.Line)

	ApplyLineDeltas(file, map[int]int{5: 3})
	require.Equal(t, 16, bp.Line)
	require.Equal(t, map[int]int{3: 2, 5: 3, 8: 1}, file.LineOffsets)
}
