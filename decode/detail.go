// Package decode builds the detail tree described by a variable's textual
// type, places each node at a stack slot, memory offset, or storage slot,
// and decodes raw words read from those locations into display strings.
//
// Detail is modeled as a single tagged struct rather than an interface
// hierarchy: every operation (position assignment, decoding, cloning)
// switches exhaustively on Kind, the way the teacher's accounts/abi
// argument decoding switches on abi.Type.T instead of dispatching through
// per-type methods.
package decode

import "github.com/holiman/uint256"

// Location is where a variable or detail node's bytes live.
type Location int

const (
	LocationUnspecified Location = iota
	LocationStack
	LocationMemory
	LocationStorage
	LocationCallData
)

func (l Location) String() string {
	switch l {
	case LocationStack:
		return "stack"
	case LocationMemory:
		return "memory"
	case LocationStorage:
		return "storage"
	case LocationCallData:
		return "calldata"
	default:
		return "unspecified"
	}
}

// Kind is the tag of the Detail sum type.
type Kind int

const (
	KindValue Kind = iota
	KindArray
	KindStruct
	KindMapping
)

// ValueKind distinguishes the primitive value variants.
type ValueKind int

const (
	ValueBool ValueKind = iota
	ValueUnsigned
	ValueSigned
	ValueAddress
	ValueFixedBytes
)

// StructMember is one named field of a Struct detail.
type StructMember struct {
	Name   string
	Detail *Detail
}

// Detail is the typed, placement-resolved view of a variable or a nested
// value inside one. Exactly the fields relevant to d.Kind are meaningful;
// the others are zero.
type Detail struct {
	ID       int
	TypeName string
	Kind     Kind

	// Value fields.
	ValueKind ValueKind
	Width     int // bytes

	// Array fields.
	IsDynamic        bool
	Length           int
	Element          *Detail
	Members          []*Detail // pre-materialized elements, fixed arrays only
	LocationOverride Location
	IsPointer bool

	// Struct fields.
	StructMembers []StructMember

	// Mapping fields.
	MapKey   *Detail
	MapValue *Detail

	// Placement, filled in by ApplyPositions.
	Location Location
	Slot     *uint256.Int // storage slot; nil outside Storage
	Offset   int          // byte offset within Slot, low-end aligned
	MemOffset int         // byte offset within the memory region
}

// IsComposite reports whether this node has children that can be lazily
// expanded by the client facade (variablesReference semantics: zero for
// leaves, the detail's own ID for composites).
func (d *Detail) IsComposite() bool {
	return d.Kind != KindValue
}

// VariablesReference returns the id a client should use to request this
// node's children: 0 for leaves, d.ID otherwise.
func (d *Detail) VariablesReference() int {
	if !d.IsComposite() {
		return 0
	}
	return d.ID
}

// Clone deep-copies a detail tree. Used when a variable's detail must be
// rebound to a fresh frame or contract address without mutating the
// declaring contract's shared copy.
func (d *Detail) Clone() *Detail {
	if d == nil {
		return nil
	}
	c := *d
	if d.Slot != nil {
		c.Slot = new(uint256.Int).Set(d.Slot)
	}
	c.Element = d.Element.Clone()
	if d.Members != nil {
		c.Members = make([]*Detail, len(d.Members))
		for i, m := range d.Members {
			c.Members[i] = m.Clone()
		}
	}
	if d.StructMembers != nil {
		c.StructMembers = make([]StructMember, len(d.StructMembers))
		for i, m := range d.StructMembers {
			c.StructMembers[i] = StructMember{Name: m.Name, Detail: m.Detail.Clone()}
		}
	}
	c.MapKey = d.MapKey.Clone()
	c.MapValue = d.MapValue.Clone()
	return &c
}
