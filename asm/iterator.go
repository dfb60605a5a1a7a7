package asm

import "fmt"

// InstructionIterator walks a contiguous run of bytecode one opcode at a
// time, skipping over PUSH immediates so callers never mistake payload
// bytes for opcodes. Grounded on the teacher's core/asm.instructionIterator.
type InstructionIterator struct {
	code    []byte
	pc      uint64
	arg     []byte
	op      OpCode
	err     error
	started bool
}

// NewInstructionIterator returns an iterator over code.
func NewInstructionIterator(code []byte) *InstructionIterator {
	return &InstructionIterator{code: code}
}

// Next advances to the next instruction, returning false at the end of the
// code or on error (an incomplete trailing PUSH immediate).
func (it *InstructionIterator) Next() bool {
	if it.err != nil || uint64(len(it.code)) <= it.pc {
		return false
	}
	if it.started {
		if it.arg != nil {
			it.pc += uint64(len(it.arg))
		}
		it.pc++
	} else {
		it.started = true
	}
	if uint64(len(it.code)) <= it.pc {
		return false
	}
	it.op = OpCode(it.code[it.pc])
	if n := it.op.PushSize(); n > 0 {
		end := it.pc + 1 + uint64(n)
		if end > uint64(len(it.code)) {
			it.err = fmt.Errorf("incomplete PUSH immediate at pc %d", it.pc)
			return false
		}
		it.arg = it.code[it.pc+1 : end]
	} else {
		it.arg = nil
	}
	return true
}

// Err returns any error encountered during iteration.
func (it *InstructionIterator) Err() error { return it.err }

// PC returns the byte offset of the current instruction.
func (it *InstructionIterator) PC() uint64 { return it.pc }

// Op returns the current opcode.
func (it *InstructionIterator) Op() OpCode { return it.op }

// Arg returns the current instruction's immediate bytes, nil if it has none.
func (it *InstructionIterator) Arg() []byte { return it.arg }
