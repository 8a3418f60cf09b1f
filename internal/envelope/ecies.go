package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dotheaven/heaven-core/internal/common"
)

// Wrapped-key envelopes use ECIES over P-256: an ephemeral ECDH exchange with
// the recipient's public key, SHA-256 of the shared secret as the AES-256-GCM
// key. The ephemeral public key travels uncompressed (65 bytes) so existing
// envelopes stay readable.
const (
	wrappedKeyVersion     = 1
	ephemeralPubKeySize   = 65
	wrappedKeyIVSize      = 12
	wrappedKeyHexIVLength = wrappedKeyIVSize * 2
)

// WrappedKey is a content key encrypted to a single recipient.
type WrappedKey struct {
	Version            int    `json:"version"`
	ContentID          string `json:"contentId"`
	Owner              string `json:"owner"`
	Grantee            string `json:"grantee"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	IV                 string `json:"iv"`
	Ciphertext         string `json:"ciphertext"`
}

// GenerateRecipientKey creates a P-256 key pair for receiving wrapped keys.
func GenerateRecipientKey() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// WrapKey encrypts the content key to the recipient public key (65-byte
// uncompressed P-256 point).
func WrapKey(recipientPub []byte, key []byte, contentID, owner, grantee string) (*WrappedKey, error) {
	if len(recipientPub) != ephemeralPubKeySize {
		return nil, fmt.Errorf("invalid recipient public key length: expected %d bytes, got %d", ephemeralPubKeySize, len(recipientPub))
	}
	pub, err := ecdh.P256().NewPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient public key: %w", err)
	}

	eph, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh agreement failed: %w", err)
	}
	aesKey := sha256.Sum256(shared)

	iv := common.RandBytes(wrappedKeyIVSize)
	aead, err := newGCM(aesKey[:])
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, iv, key, nil)

	return &WrappedKey{
		Version:            wrappedKeyVersion,
		ContentID:          strings.ToLower(contentID),
		Owner:              strings.ToLower(owner),
		Grantee:            strings.ToLower(grantee),
		EphemeralPublicKey: common.HexPrefixed(eph.PublicKey().Bytes()),
		IV:                 hex.EncodeToString(iv),
		Ciphertext:         base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Unwrap decrypts the content key with the recipient private key, after
// validating the envelope shape and that it targets the expected content and
// grantee. Shape and binding violations surface as ErrIncompatibleEnvelope:
// such envelopes cannot be repaired, the content has to be shared again.
func (w *WrappedKey) Unwrap(priv *ecdh.PrivateKey, contentID, grantee string) ([]byte, error) {
	if w.Version != wrappedKeyVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", common.ErrIncompatibleEnvelope, w.Version)
	}
	if !strings.EqualFold(w.ContentID, contentID) {
		return nil, fmt.Errorf("%w: envelope contentId %s does not match %s", common.ErrIncompatibleEnvelope, w.ContentID, contentID)
	}
	if !strings.EqualFold(w.Grantee, grantee) {
		return nil, fmt.Errorf("%w: envelope grantee %s does not match %s", common.ErrIncompatibleEnvelope, w.Grantee, grantee)
	}

	ephBytes, err := hex.DecodeString(strings.TrimPrefix(w.EphemeralPublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ephemeral public key hex", common.ErrIncompatibleEnvelope)
	}
	if len(ephBytes) != ephemeralPubKeySize {
		return nil, fmt.Errorf("%w: ephemeral public key must be %d bytes, got %d", common.ErrIncompatibleEnvelope, ephemeralPubKeySize, len(ephBytes))
	}
	if len(w.IV) != wrappedKeyHexIVLength {
		return nil, fmt.Errorf("%w: iv must be %d bytes", common.ErrIncompatibleEnvelope, wrappedKeyIVSize)
	}

	ephPub, err := ecdh.P256().NewPublicKey(ephBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral public key is not on curve", common.ErrIncompatibleEnvelope)
	}
	shared, err := priv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh agreement failed: %w", err)
	}
	aesKey := sha256.Sum256(shared)

	iv, err := hex.DecodeString(w.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid iv hex", common.ErrIncompatibleEnvelope)
	}
	ct, err := base64.StdEncoding.DecodeString(w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext base64", common.ErrIncompatibleEnvelope)
	}

	aead, err := newGCM(aesKey[:])
	if err != nil {
		return nil, err
	}
	key, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapped key decryption failed: %w", err)
	}
	return key, nil
}
