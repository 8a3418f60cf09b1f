// Package contentid derives the deterministic identifiers that address
// content across the registry, the access mirror, and the storage network.
//
// A track id identifies a musical work; a content id binds a track id to the
// wallet that owns a particular encrypted copy of it. Both are 32-byte
// keccak-256 values, so the same inputs always address the same content.
package contentid

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	icommon "github.com/dotheaven/heaven-core/internal/common"
)

// Track id payload kinds, in precedence order.
const (
	kindMBID     byte = 1 // MusicBrainz recording id
	kindIPAsset  byte = 2 // on-chain IP asset address
	kindMetadata byte = 3 // normalized title/artist/album triple
)

var stringTriple abi.Arguments

func init() {
	str, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	stringTriple = abi.Arguments{{Type: str}, {Type: str}, {Type: str}}
}

// TrackID derives the deterministic track identifier. An MBID takes
// precedence over an IP asset id, which takes precedence over the metadata
// triple. Empty strings mean "not provided".
func TrackID(title, artist, album, mbid, ipID string) (common.Hash, error) {
	var kind byte
	var payload [32]byte

	switch {
	case mbid != "":
		raw, err := hex.DecodeString(strings.ReplaceAll(mbid, "-", ""))
		if err != nil {
			return common.Hash{}, fmt.Errorf("invalid MBID hex: %w", err)
		}
		if len(raw) != 16 {
			return common.Hash{}, fmt.Errorf("invalid MBID length: expected 16 bytes, got %d", len(raw))
		}
		copy(payload[:16], raw)
		kind = kindMBID

	case ipID != "":
		normalized := ipID
		if !strings.HasPrefix(normalized, "0x") {
			normalized = "0x" + normalized
		}
		if !common.IsHexAddress(normalized) {
			return common.Hash{}, fmt.Errorf("invalid ip asset address: %s", ipID)
		}
		addr := common.HexToAddress(normalized)
		copy(payload[12:], addr.Bytes())
		kind = kindIPAsset

	default:
		encoded, err := stringTriple.Pack(
			icommon.NormalizeText(title),
			icommon.NormalizeText(artist),
			icommon.NormalizeText(album),
		)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to encode metadata triple: %w", err)
		}
		payload = crypto.Keccak256Hash(encoded)
		kind = kindMetadata
	}

	var kindWord [32]byte
	kindWord[31] = kind

	return crypto.Keccak256Hash(kindWord[:], payload[:]), nil
}

// ContentID binds a track id to its owning wallet:
// keccak256(trackId || leftPad32(owner)).
func ContentID(trackID common.Hash, owner string) (common.Hash, error) {
	if !common.IsHexAddress(owner) {
		return common.Hash{}, fmt.Errorf("invalid owner address: %s", owner)
	}
	addr := common.HexToAddress(owner)

	var ownerWord [32]byte
	copy(ownerWord[12:], addr.Bytes())

	return crypto.Keccak256Hash(trackID[:], ownerWord[:]), nil
}

// NormalizeHex32 parses a hex value of at most 32 bytes, with or without the
// 0x prefix, and renders it as a left-padded lowercase 0x-prefixed 32-byte
// word. The label is only used in error messages.
func NormalizeHex32(value, label string) (string, error) {
	h, err := DecodeHex32(value, label)
	if err != nil {
		return "", err
	}
	return strings.ToLower(h.Hex()), nil
}

// DecodeHex32 parses a hex value of at most 32 bytes into a left-padded
// 32-byte word.
func DecodeHex32(value, label string) (common.Hash, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return common.Hash{}, fmt.Errorf("%s is empty", label)
	}
	raw = strings.TrimPrefix(raw, "0x")
	if len(raw) > 64 {
		return common.Hash{}, fmt.Errorf("%s too long: expected <= 32 bytes, got %d bytes", label, len(raw)/2)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid %s hex (%s): %w", label, value, err)
	}
	if len(decoded) == 0 {
		return common.Hash{}, fmt.Errorf("%s is empty", label)
	}

	var out common.Hash
	copy(out[32-len(decoded):], decoded)
	return out, nil
}

// BytesFromPieceRef returns the bytes a piece reference hashes over: hex
// references decode to raw bytes, everything else hashes as UTF-8 text.
func BytesFromPieceRef(value string) ([]byte, error) {
	if strings.HasPrefix(value, "0x") {
		decoded, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hex piece reference: %w", err)
		}
		return decoded, nil
	}
	return []byte(value), nil
}
