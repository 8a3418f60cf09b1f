package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/dotheaven/heaven-core/internal/common"
)

const (
	payloadKeySize = 32
	payloadIVSize  = 12
)

// EncryptPayload encrypts the media bytes with a fresh AES-256-GCM key and
// 12-byte IV, both returned to the caller for wrapping.
func EncryptPayload(plain []byte) (key, iv, ciphertext []byte, err error) {
	key = common.RandBytes(payloadKeySize)
	iv = common.RandBytes(payloadIVSize)

	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	return key, iv, aead.Seal(nil, iv, plain, nil), nil
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != payloadKeySize {
		return nil, fmt.Errorf("invalid payload key length: expected %d bytes, got %d", payloadKeySize, len(key))
	}
	if len(iv) != payloadIVSize {
		return nil, fmt.Errorf("invalid payload iv length: expected %d bytes, got %d", payloadIVSize, len(iv))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("payload decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// KeyPayload is the plaintext the threshold network guards: the symmetric
// content key bound to the content id it decrypts.
type KeyPayload struct {
	ContentID string `json:"contentId"`
	Key       string `json:"key"`
}

// EncodeKeyPayload serializes the content key for network-side encryption.
func EncodeKeyPayload(contentID string, key []byte) ([]byte, error) {
	p := KeyPayload{
		ContentID: strings.ToLower(contentID),
		Key:       base64.StdEncoding.EncodeToString(key),
	}
	return sonic.Marshal(p)
}

// DecodeKeyPayload parses a decrypted key payload and returns the symmetric
// key, verifying the embedded content id when one is present.
func DecodeKeyPayload(raw []byte, expectedContentID string) ([]byte, error) {
	var p KeyPayload
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted key payload: %w", err)
	}
	if p.ContentID != "" && !strings.EqualFold(p.ContentID, expectedContentID) {
		return nil, fmt.Errorf("decrypted payload contentId mismatch: expected %s, got %s", expectedContentID, p.ContentID)
	}
	if p.Key == "" {
		return nil, fmt.Errorf("decrypted payload missing key")
	}
	key, err := base64.StdEncoding.DecodeString(p.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid key base64 in decrypted payload: %w", err)
	}
	if len(key) != payloadKeySize {
		return nil, fmt.Errorf("invalid key length in decrypted payload: expected %d bytes, got %d", payloadKeySize, len(key))
	}
	return key, nil
}
