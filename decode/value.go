package decode

import (
	"math/big"

	"github.com/SeesePlusPlus/velma/common"
	"github.com/SeesePlusPlus/velma/cryptoutil"
	"github.com/holiman/uint256"
)

// invalidValue is returned, never an error, whenever a decode is asked to
// read bytes shorter than the declared type's width: the taxonomy's
// "Decoding" error kind recovers locally rather than propagating.
const invalidValue = "(invalid value)"

// StorageFetcher reads a single 32-byte storage slot from the live VM,
// mirroring the engine's getStorage request to the VM adapter.
type StorageFetcher interface {
	GetStorage(slot common.Word) (common.Word, error)
}

func wordToUint256(w common.Word) *uint256.Int {
	return new(uint256.Int).SetBytes32(w[:])
}

func uint256ToWord(n *uint256.Int) common.Word {
	b := n.Bytes32()
	return common.Word(b)
}

// DecodeStackValue decodes a value-kind detail whose variable lives at
// stack slot variablePos, with the detail itself at a further relative
// position as assigned by ApplyPositions.
func DecodeStackValue(d *Detail, stack []common.Word, variablePos int) (string, error) {
	idx := variablePos + int(d.Offset)
	if idx < 0 || idx >= len(stack) {
		return invalidValue, nil
	}
	return interpretWord(stack[idx], d.ValueKind, d.Width, 0)
}

// DecodeMemoryValue decodes a value-kind detail given the base memory
// pointer held in the variable's stack slot.
func DecodeMemoryValue(d *Detail, memory []byte, base uint64) (string, error) {
	off := base + uint64(d.MemOffset)
	if off+32 > uint64(len(memory)) {
		return invalidValue, nil
	}
	var w common.Word
	copy(w[:], memory[off:off+32])
	return interpretWord(w, d.ValueKind, d.Width, 0)
}

// DecodeStack decodes a detail of any kind whose variable lives at stack
// slot variablePos, recursing into fixed arrays and structs the way Decode
// recurses through a storage tree. Dynamic arrays and mappings cannot live
// on the stack; both report a fixed placeholder.
func DecodeStack(d *Detail, stack []common.Word, variablePos int) (string, error) {
	switch d.Kind {
	case KindValue:
		return DecodeStackValue(d, stack, variablePos)

	case KindStruct:
		out := "{"
		for i, m := range d.StructMembers {
			if i > 0 {
				out += ", "
			}
			v, err := DecodeStack(m.Detail, stack, variablePos)
			if err != nil {
				return "", err
			}
			out += m.Name + ": " + v
		}
		return out + "}", nil

	case KindArray:
		if d.IsDynamic {
			return invalidValue, nil
		}
		out := "["
		for i, m := range d.Members {
			if i > 0 {
				out += ", "
			}
			v, err := DecodeStack(m, stack, variablePos)
			if err != nil {
				return "", err
			}
			out += v
		}
		return out + "]", nil

	default:
		return invalidValue, nil
	}
}

// DecodeMemory decodes a detail of any kind laid out at fixed offsets from
// base in memory, recursing into fixed arrays and structs. Dynamic arrays
// resolve their own length word at their pointer slot and walk elements
// sequentially from the word immediately after it, mirroring the ABI
// memory-encoding rule for dynamic locals.
func DecodeMemory(d *Detail, memory []byte, base uint64) (string, error) {
	switch d.Kind {
	case KindValue:
		return DecodeMemoryValue(d, memory, base)

	case KindStruct:
		out := "{"
		for i, m := range d.StructMembers {
			if i > 0 {
				out += ", "
			}
			v, err := DecodeMemory(m.Detail, memory, base)
			if err != nil {
				return "", err
			}
			out += m.Name + ": " + v
		}
		return out + "}", nil

	case KindArray:
		if d.IsDynamic {
			return decodeDynamicMemoryArray(d, memory, base)
		}
		out := "["
		for i, m := range d.Members {
			if i > 0 {
				out += ", "
			}
			v, err := DecodeMemory(m, memory, base)
			if err != nil {
				return "", err
			}
			out += v
		}
		return out + "]", nil

	default:
		return invalidValue, nil
	}
}

func decodeDynamicMemoryArray(d *Detail, memory []byte, base uint64) (string, error) {
	off := base + uint64(d.MemOffset)
	if off+32 > uint64(len(memory)) {
		return invalidValue, nil
	}
	var lengthWord common.Word
	copy(lengthWord[:], memory[off:off+32])
	length := wordToUint256(lengthWord).Uint64()

	elementsBase := off + 32
	out := "["
	for i := uint64(0); i < length; i++ {
		if i > 0 {
			out += ", "
		}
		v, err := DecodeMemory(d.Element, memory, elementsBase+i*32)
		if err != nil {
			return "", err
		}
		out += v
	}
	return out + "]", nil
}

// Decode decodes a placed storage detail, recursing into arrays, structs,
// and mapping value slots. It does not resolve a mapping's key; use
// DecodeMappingValue for that.
func Decode(d *Detail, fetch StorageFetcher) (string, error) {
	switch d.Kind {
	case KindValue:
		word, err := fetch.GetStorage(uint256ToWord(d.Slot))
		if err != nil {
			return "", err
		}
		return interpretWord(word, d.ValueKind, d.Width, d.Offset)

	case KindArray:
		if d.IsDynamic {
			return decodeDynamicArray(d, fetch)
		}
		return decodeFixedArray(d, fetch)

	case KindStruct:
		return decodeStruct(d, fetch)

	case KindMapping:
		return "(mapping)", nil

	default:
		return invalidValue, nil
	}
}

// DecodeMappingValue decodes the value stored under key in a mapping
// detail, per the rule: value lives at keccak256(key ‖ baseSlot).
func DecodeMappingValue(d *Detail, key common.Word, fetch StorageFetcher) (string, error) {
	if d.Kind != KindMapping {
		return "", nil
	}
	baseWord := uint256ToWord(d.Slot)
	slot := cryptoutil.MappingSlot(key, baseWord)
	return decodeAt(d.MapValue, slot, fetch)
}

// decodeAt decodes a template detail (whose Slot/Offset fields were
// assigned relative to zero by ApplyPositions) at an absolute base slot.
func decodeAt(d *Detail, base common.Word, fetch StorageFetcher) (string, error) {
	shifted := d.Clone()
	rebase(shifted, base)
	return Decode(shifted, fetch)
}

// rebase adds base to every absolute slot recorded in a relative template
// produced for a mapping value or dynamic array element.
func rebase(d *Detail, base common.Word) {
	if d == nil {
		return
	}
	if d.Slot != nil {
		sum := new(uint256.Int).Add(wordToUint256(base), d.Slot)
		d.Slot = sum
	}
	switch d.Kind {
	case KindStruct:
		for _, m := range d.StructMembers {
			rebase(m.Detail, base)
		}
	case KindArray:
		rebase(d.Element, base)
		for _, m := range d.Members {
			rebase(m, base)
		}
	case KindMapping:
		rebase(d.MapValue, base)
	}
}

func decodeStruct(d *Detail, fetch StorageFetcher) (string, error) {
	out := "{"
	for i, m := range d.StructMembers {
		if i > 0 {
			out += ", "
		}
		v, err := Decode(m.Detail, fetch)
		if err != nil {
			return "", err
		}
		out += m.Name + ": " + v
	}
	return out + "}", nil
}

func decodeFixedArray(d *Detail, fetch StorageFetcher) (string, error) {
	out := "["
	for i, m := range d.Members {
		if i > 0 {
			out += ", "
		}
		v, err := Decode(m, fetch)
		if err != nil {
			return "", err
		}
		out += v
	}
	return out + "]", nil
}

// decodeDynamicArray handles both the byte-array/string packing rule and
// generic element arrays of a dynamic array's length slot.
func decodeDynamicArray(d *Detail, fetch StorageFetcher) (string, error) {
	lengthWord, err := fetch.GetStorage(uint256ToWord(d.Slot))
	if err != nil {
		return "", err
	}

	if d.Element.Kind == KindValue && d.Element.ValueKind == ValueFixedBytes && d.Element.Width == 1 {
		return decodeBytesOrString(lengthWord, d.Slot, fetch)
	}

	length := wordToUint256(lengthWord).Uint64()
	elementsBase := cryptoutil.DynamicArrayBase(uint256ToWord(d.Slot))
	slotsPerElement := SlotsPerElement(d.Element)

	out := "["
	for i := uint64(0); i < length; i++ {
		elemSlot := new(uint256.Int).Add(wordToUint256(elementsBase), new(uint256.Int).SetUint64(i*slotsPerElement))
		v, err := decodeAt(d.Element, uint256ToWord(elemSlot), fetch)
		if err != nil {
			return "", err
		}
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out + "]", nil
}

// decodeBytesOrString applies the packed-short/spilled-long encoding: a
// value that fits in 31 bytes packs into the slot itself with its low bit
// clear and its length in the top byte times two; a longer value stores
// length*2+1 in the slot and its bytes starting at keccak256(slot).
func decodeBytesOrString(slotWord common.Word, slot *uint256.Int, fetch StorageFetcher) (string, error) {
	if slotWord[31]&1 == 0 {
		length := int(slotWord[31]) / 2
		if length > 31 {
			return invalidValue, nil
		}
		return string(slotWord[:length]), nil
	}

	n := wordToUint256(slotWord)
	length := new(uint256.Int).Rsh(n, 1).Uint64()
	dataSlot := cryptoutil.DynamicArrayBase(uint256ToWord(slot))
	out := make([]byte, 0, length)
	cursor := wordToUint256(dataSlot)
	for uint64(len(out)) < length {
		w, err := fetch.GetStorage(uint256ToWord(cursor))
		if err != nil {
			return "", err
		}
		remaining := length - uint64(len(out))
		if remaining > 32 {
			remaining = 32
		}
		out = append(out, w[:remaining]...)
		cursor = new(uint256.Int).AddUint64(cursor, 1)
	}
	return string(out), nil
}

// interpretWord extracts [32-offset-width, 32-offset) from raw (storage
// values are right-aligned within their slot) and formats it per kind.
func interpretWord(raw common.Word, vk ValueKind, width, offset int) (string, error) {
	if width <= 0 || width > 32 || offset < 0 || offset+width > 32 {
		return invalidValue, nil
	}
	start := 32 - offset - width
	slice := raw[start : start+width]

	switch vk {
	case ValueBool:
		if slice[len(slice)-1] != 0 {
			return "true", nil
		}
		return "false", nil

	case ValueUnsigned:
		return new(big.Int).SetBytes(slice).String(), nil

	case ValueSigned:
		n := new(big.Int).SetBytes(slice)
		if len(slice) > 0 && slice[0]&0x80 != 0 {
			bound := new(big.Int).Lsh(big.NewInt(1), uint(width*8))
			n.Sub(n, bound)
		}
		return n.String(), nil

	case ValueAddress:
		var addr common.Address
		addr.SetBytes(slice)
		return addr.Hex(), nil

	case ValueFixedBytes:
		return common.ToHex(slice), nil

	default:
		return invalidValue, nil
	}
}
