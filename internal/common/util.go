package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RandBytes returns n cryptographically random bytes. It panics if the
// system source of randomness is unavailable.
func RandBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return buf
}

// RandHexString generates a random hexadecimal string built from size random
// bytes, so the resulting string is twice as long as size.
func RandHexString(size int) string {
	return hex.EncodeToString(RandBytes(size))
}

// Sha256Hex returns the lowercase hex encoding of the SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HexPrefixed encodes b as lowercase hex with a 0x prefix.
func HexPrefixed(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// NormalizeText lowercases s and collapses all whitespace runs to single
// spaces. Used wherever track metadata feeds a deterministic identifier.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
