package asm

import "encoding/hex"

// BuildPCMap walks runtime bytecode and numbers every non-PUSH-payload byte
// with an ordinal instruction index, starting at 0. The PUSH opcode itself
// gets an index; the bytes making up its immediate do not. The returned map
// is what the source-map's instruction-index-keyed entries are looked up
// through once a pc is known.
func BuildPCMap(runtimeCode []byte) map[uint64]int {
	pcMap := make(map[uint64]int)
	it := NewInstructionIterator(runtimeCode)
	index := 0
	for it.Next() {
		pcMap[it.PC()] = index
		index++
	}
	return pcMap
}

// FunctionEntryMap scans runtime bytecode for the canonical 4-byte-selector
// dispatcher sequence:
//
//	DUP1 PUSH4 <selector> EQ PUSH1 <pc>
//
// encoded as the byte pattern 0x80 0x63 <4 bytes> 0x14 0x60 <1 byte>, and
// returns a map from the jump target pc (the dispatcher's PUSH1 operand) to
// the selector's 4-byte hex string. This is a byte-pattern scan, not an
// opcode-by-opcode walk, because the dispatcher sequence must be recognized
// even though DUP1 appears constantly elsewhere in the bytecode.
func FunctionEntryMap(runtimeCode []byte) map[uint64]string {
	out := make(map[uint64]string)
	const patLen = 1 + 1 + 4 + 1 + 1 + 1 // DUP1 PUSH4 <sel:4> EQ PUSH1 <pc:1>
	for i := 0; i+patLen <= len(runtimeCode); i++ {
		if runtimeCode[i] != byte(DUP1) || runtimeCode[i+1] != byte(PUSH4) {
			continue
		}
		selector := runtimeCode[i+2 : i+6]
		if runtimeCode[i+6] != byte(EQ) || runtimeCode[i+7] != byte(PUSH1) {
			continue
		}
		entryPC := uint64(runtimeCode[i+8])
		out[entryPC] = hex.EncodeToString(selector)
	}
	return out
}
