package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressHexRoundTrip(t *testing.T) {
	a := HexToAddress("0x000000000000000000000000000000000000dEaD")
	require.Equal(t, "0x000000000000000000000000000000000000dead", a.Hex())
}

func TestWordBigRoundTrip(t *testing.T) {
	n := big.NewInt(123456789)
	w := BigToWord(n)
	require.Equal(t, n, w.Big())
}

func TestFromHexOddLength(t *testing.T) {
	require.Equal(t, []byte{0x0a, 0xbc}, FromHex("0xabc"))
}

func TestToHexEmpty(t *testing.T) {
	require.Equal(t, "0x0", ToHex(nil))
}

func TestLeftPadBytes(t *testing.T) {
	require.Equal(t, []byte{0, 0, 1}, LeftPadBytes([]byte{1}, 3))
	require.Equal(t, []byte{1, 2, 3}, LeftPadBytes([]byte{1, 2, 3}, 2))
}
