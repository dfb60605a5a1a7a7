package decode

import "github.com/holiman/uint256"

// ApplyPositions walks a detail tree, placing each node before its
// children, following the storage-packing and memory-sequencing rules.
// base is used only for Storage variables, as the starting storage slot;
// Stack and Memory placements are relative to the variable's own position
// and ignore it.
func ApplyPositions(d *Detail, loc Location, base *uint256.Int) {
	switch loc {
	case LocationStack:
		applyStackPositions(d)
	case LocationMemory:
		applyMemoryPositions(d, 0)
	case LocationStorage:
		c := &storageCursor{slot: new(uint256.Int).Set(base), offset: 0}
		applyStoragePositions(d, c)
	default:
		// CallData and unspecified locations are not placed; the decoder
		// for calldata reads directly off the input bytes using the
		// function's argument offsets, which are not modeled here.
	}
}

func applyStackPositions(d *Detail) {
	if d == nil {
		return
	}
	d.Location = LocationStack
	d.Offset = 0
	switch d.Kind {
	case KindArray:
		applyStackPositions(d.Element)
		for _, m := range d.Members {
			applyStackPositions(m)
		}
	case KindStruct:
		for _, m := range d.StructMembers {
			applyStackPositions(m.Detail)
		}
	case KindMapping:
		applyStackPositions(d.MapKey)
		applyStackPositions(d.MapValue)
	}
}

// applyMemoryPositions sequences members at consecutive 32-byte boundaries.
// A dynamic array takes a single 32-byte pointer slot in its parent's
// layout; its elements are not placed (their length is unknown until
// runtime).
func applyMemoryPositions(d *Detail, offset int) int {
	if d == nil {
		return offset
	}
	d.Location = LocationMemory
	d.MemOffset = offset
	switch d.Kind {
	case KindValue:
		return offset + 32
	case KindArray:
		if d.IsDynamic {
			return offset + 32 // pointer slot only; elements laid out separately
		}
		next := offset
		for _, m := range d.Members {
			next = applyMemoryPositions(m, next)
		}
		return next
	case KindStruct:
		next := offset
		for _, m := range d.StructMembers {
			next = applyMemoryPositions(m.Detail, next)
		}
		return next
	case KindMapping:
		// Mappings cannot live in memory; treat as an opaque pointer slot.
		return offset + 32
	default:
		return offset + 32
	}
}

// storageCursor tracks the slot/offset packing cursor described in the
// storage layout rules: values pack into the current slot if they fit,
// otherwise the cursor advances to a fresh slot at offset 0.
type storageCursor struct {
	slot   *uint256.Int
	offset int
}

func (c *storageCursor) alloc(width int) (*uint256.Int, int) {
	if c.offset+width > 32 {
		c.advance()
	}
	slot := new(uint256.Int).Set(c.slot)
	off := c.offset
	c.offset += width
	return slot, off
}

func (c *storageCursor) forceNewSlot() {
	if c.offset != 0 {
		c.advance()
	}
}

func (c *storageCursor) advance() {
	c.slot = new(uint256.Int).AddUint64(c.slot, 1)
	c.offset = 0
}

func applyStoragePositions(d *Detail, c *storageCursor) {
	if d == nil {
		return
	}
	d.Location = LocationStorage

	switch d.Kind {
	case KindValue:
		slot, off := c.alloc(d.Width)
		d.Slot, d.Offset = slot, off

	case KindStruct:
		c.forceNewSlot()
		d.Slot = new(uint256.Int).Set(c.slot)
		for _, m := range d.StructMembers {
			applyStoragePositions(m.Detail, c)
		}
		c.forceNewSlot()

	case KindArray:
		if d.IsDynamic {
			slot, off := c.alloc(32)
			d.Slot, d.Offset = slot, off
			// The element template is laid out relative to slot 0 so the
			// decoder can add keccak256(slot) + index*slotsPerElement at
			// read time, per the dynamic-array element addressing rule.
			elemCursor := &storageCursor{slot: new(uint256.Int), offset: 0}
			applyStoragePositions(d.Element, elemCursor)
			break
		}
		c.forceNewSlot()
		d.Slot = new(uint256.Int).Set(c.slot)
		for _, m := range d.Members {
			applyStoragePositions(m, c)
		}
		c.forceNewSlot()

	case KindMapping:
		slot, off := c.alloc(32)
		d.Slot, d.Offset = slot, off
		valueCursor := &storageCursor{slot: new(uint256.Int), offset: 0}
		applyStoragePositions(d.MapValue, valueCursor)
	}
}

// SlotsPerElement returns how many storage slots a single element of an
// array occupies, used together with keccak256(lengthSlot) to locate the
// i-th element of a dynamic array whose elements exceed one word.
func SlotsPerElement(elem *Detail) uint64 {
	switch elem.Kind {
	case KindValue:
		return 1
	case KindStruct:
		if elem.Slot == nil {
			return 1
		}
		last := new(uint256.Int)
		for _, m := range elem.StructMembers {
			if m.Detail.Slot != nil && m.Detail.Slot.Cmp(last) > 0 {
				last.Set(m.Detail.Slot)
			}
		}
		return last.Uint64() + 1
	default:
		return 1
	}
}
