package common

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandHexString_LengthAndHex(t *testing.T) {
	s := RandHexString(16)
	require.Len(t, s, 32)
	_, err := hex.DecodeString(s)
	require.NoError(t, err)
}

func TestRandHexString_EntropyHint(t *testing.T) {
	a := RandHexString(16)
	b := RandHexString(16)
	assert.NotEqual(t, a, b)
}

func TestSha256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Sha256Hex(nil))
}

func TestHexPrefixed(t *testing.T) {
	assert.Equal(t, "0x00ff", HexPrefixed([]byte{0x00, 0xff}))
	assert.Equal(t, "0x", HexPrefixed(nil))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeText("  Hello\t\nWORLD "))
	assert.Equal(t, "", NormalizeText("   "))
}
