package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstructionIteratorSkipsPushPayload(t *testing.T) {
	// PUSH2 0xbeef; JUMPDEST; STOP
	code := []byte{byte(PUSH1 + 1), 0xbe, 0xef, byte(JUMPDEST), byte(STOP)}
	it := NewInstructionIterator(code)

	require.True(t, it.Next())
	require.Equal(t, uint64(0), it.PC())
	require.Equal(t, []byte{0xbe, 0xef}, it.Arg())

	require.True(t, it.Next())
	require.Equal(t, uint64(3), it.PC())
	require.Equal(t, JUMPDEST, it.Op())

	require.True(t, it.Next())
	require.Equal(t, uint64(4), it.PC())

	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestInstructionIteratorIncompletePush(t *testing.T) {
	code := []byte{byte(PUSH1 + 3), 0x01, 0x02} // PUSH4 needs 4 bytes, only 2 present
	it := NewInstructionIterator(code)
	require.False(t, it.Next())
	require.False(t, it.Next())
	require.Error(t, it.Err())
}

func TestBuildPCMapOnlyIndexesOpcodes(t *testing.T) {
	code := []byte{byte(PUSH1 + 1), 0xbe, 0xef, byte(JUMPDEST), byte(STOP)}
	pcMap := BuildPCMap(code)
	require.Equal(t, map[uint64]int{0: 0, 3: 1, 4: 2}, pcMap)
}

func TestFunctionEntryMapFindsDispatcher(t *testing.T) {
	// DUP1 PUSH4 aabbccdd EQ PUSH1 0x20 ...
	code := []byte{
		byte(DUP1), byte(PUSH4), 0xaa, 0xbb, 0xcc, 0xdd, byte(EQ), byte(PUSH1), 0x20,
	}
	entries := FunctionEntryMap(code)
	require.Equal(t, map[uint64]string{0x20: "aabbccdd"}, entries)
}

func TestFunctionEntryMapIgnoresUnrelatedDup1(t *testing.T) {
	code := []byte{byte(DUP1), byte(ADD)}
	require.Empty(t, FunctionEntryMap(code))
}
