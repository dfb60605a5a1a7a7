// Package common holds the fixed-size byte types shared by every other
// package: 20-byte contract addresses and 32-byte VM words (used both as
// content hashes and as raw storage/stack cells).
package common

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// AddressLength is the size in bytes of a contract address.
	AddressLength = 20
	// WordLength is the size in bytes of a single EVM-style stack/storage cell.
	WordLength = 32
)

// Address is a contract or account address.
type Address [AddressLength]byte

// BytesToAddress sets the rightmost bytes of b into a new Address.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress parses a hex string (with or without a leading 0x) into an Address.
func HexToAddress(s string) Address { return BytesToAddress(FromHex(s)) }

// SetBytes sets the address to the value of b, right-aligned, truncating from the left if b is longer.
func (a *Address) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// Bytes returns the raw bytes of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the 0x-prefixed lowercase hex encoding of the address.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the all-zero value, used to mean
// "not yet linked to a deployed contract" throughout the model package.
func (a Address) IsZero() bool { return a == Address{} }

// Word is a single 32-byte VM cell: a stack slot, a storage slot, a hash.
type Word [WordLength]byte

// BytesToWord right-aligns b into a new Word, truncating from the left if b is longer.
func BytesToWord(b []byte) Word {
	var w Word
	w.SetBytes(b)
	return w
}

// BigToWord encodes a big.Int as a big-endian 32-byte Word.
func BigToWord(b *big.Int) Word {
	return BytesToWord(b.Bytes())
}

// HexToWord parses a hex string into a Word.
func HexToWord(s string) Word { return BytesToWord(FromHex(s)) }

func (w *Word) SetBytes(b []byte) {
	if len(b) > len(w) {
		b = b[len(b)-WordLength:]
	}
	copy(w[WordLength-len(b):], b)
}

// Bytes returns the raw 32 bytes of the word.
func (w Word) Bytes() []byte { return w[:] }

// Big interprets the word as a big-endian unsigned integer.
func (w Word) Big() *big.Int { return new(big.Int).SetBytes(w[:]) }

// Hex returns the 0x-prefixed lowercase hex encoding of the word.
func (w Word) Hex() string { return "0x" + hex.EncodeToString(w[:]) }

func (w Word) String() string { return w.Hex() }

// IsZero reports whether every byte of the word is zero.
func (w Word) IsZero() bool { return w == Word{} }

// FromHex decodes a hex string that may carry a 0x/0X prefix and an odd
// number of nibbles (left-padded with a zero nibble), mirroring how
// compiler output and VM adapter payloads encode byte blobs.
func FromHex(s string) []byte {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) == 0 {
		return nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// ToHex hex-encodes b with a 0x prefix, using "0x0" rather than a bare
// "0x" for the empty slice (FromHex decodes "0x0" as a single zero byte).
func ToHex(b []byte) string {
	h := hex.EncodeToString(b)
	if h == "" {
		h = "0"
	}
	return "0x" + h
}

// LeftPadBytes returns a copy of b padded on the left with zero bytes to size.
// If b is already at least size bytes, it is returned unchanged.
func LeftPadBytes(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// RightPadBytes returns a copy of b padded on the right with zero bytes to size.
func RightPadBytes(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// FormatWordList renders a stack/memory word slice for debug logging, in the
// same "index: hex" layout the teacher's own VM step logger uses.
func FormatWordList(words []Word) string {
	var sb strings.Builder
	for i := len(words) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%04d: %x\n", len(words)-i-1, words[i])
	}
	return sb.String()
}
