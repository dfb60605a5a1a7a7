// Package cryptoutil provides the single hash primitive the storage layout
// rules in the data model depend on: Keccak-256, used to locate dynamic
// array elements, long byte-string data, and mapping values.
package cryptoutil

import (
	"golang.org/x/crypto/sha3"

	"github.com/SeesePlusPlus/velma/common"
)

// Keccak256 hashes the concatenation of data and returns the raw digest.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Word hashes the concatenation of data and returns it as a Word,
// the form every storage-slot computation in package decode needs.
func Keccak256Word(data ...[]byte) common.Word {
	return common.BytesToWord(Keccak256(data...))
}

// MappingSlot computes the storage slot holding the value for key k in a
// mapping based at slot p: keccak256(k ‖ p), per the storage layout rules.
func MappingSlot(key, base common.Word) common.Word {
	return Keccak256Word(append(append([]byte{}, key.Bytes()...), base.Bytes()...))
}

// DynamicArrayBase computes the storage slot where a dynamic array's
// elements begin, given the slot p holding its length: keccak256(p).
func DynamicArrayBase(lengthSlot common.Word) common.Word {
	return Keccak256Word(lengthSlot.Bytes())
}
