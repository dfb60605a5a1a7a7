package srcmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInheritsEmptyFields(t *testing.T) {
	m := Parse("0:10:0:-;5::1:i;::;20:3::o")
	require.Len(t, m, 4)

	require.Equal(t, Entry{Start: 0, Length: 10, File: 0, Jump: JumpNone}, m[0])
	require.Equal(t, Entry{Start: 5, Length: 10, File: 1, Jump: JumpIn}, m[1])
	// third entry is fully empty: inherits everything from the second.
	require.Equal(t, m[1], m[2])
	require.Equal(t, Entry{Start: 20, Length: 3, File: 1, Jump: JumpOut}, m[3])
}

func TestToIndexAtIndexRoundTrip(t *testing.T) {
	m := Parse("0:10:0:-;5:4:0:i;9:2:0:o")
	for k := range m {
		loc, ok := m.AtIndex(k)
		require.True(t, ok)
		idx, ok := m.ToIndex(loc)
		require.True(t, ok)
		require.Equal(t, k, idx)
	}
}

func TestToIndexIgnoresFileField(t *testing.T) {
	m := Parse("0:10:0:-;0:10:5:-")
	// Both entries share (start,length); file differs. ToIndex must return
	// the first match regardless of file, per Open Question Q1.
	idx, ok := m.ToIndex(Entry{Start: 0, Length: 10, File: 99})
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestLineColumnBasic(t *testing.T) {
	src := []byte("abc\ndef\nghi")
	lb := ComputeLineBreaks(src)
	require.Equal(t, LineBreaks{3, 7}, lb)

	line, col := lb.LineColumn(0)
	require.Equal(t, 1, line)
	require.Equal(t, 0, col)

	line, col = lb.LineColumn(5)
	require.Equal(t, 2, line)
	require.Equal(t, 1, col)

	line, _ = lb.LineColumn(8)
	require.Equal(t, 3, line)
}

func TestLineColumnOnNewlineCountsAsNextLine(t *testing.T) {
	src := []byte("abc\ndef")
	lb := ComputeLineBreaks(src)
	line, _ := lb.LineColumn(3) // offset 3 is the '\n' itself
	require.Equal(t, 2, line)
}
