package keystore

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/dotheaven/heaven-core/internal/filex"
)

// ContentKeyStore persists the long-lived P-256 key pair that content keys
// are wrapped to. The key is created on first use and never rotated
// automatically: rotating it would orphan every wrapped key on record.
type ContentKeyStore struct {
	path string
}

func NewContentKeyStore(path string) *ContentKeyStore {
	return &ContentKeyStore{path: path}
}

// ContentKey loads the persisted key pair, creating one if none exists.
func (s *ContentKeyStore) ContentKey() (*ecdh.PrivateKey, error) {
	raw, err := os.ReadFile(s.path)
	if err == nil {
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("corrupt content key file %s: %w", s.path, err)
		}
		priv, err := ecdh.P256().NewPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("corrupt content key file %s: %w", s.path, err)
		}
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	encoded := hex.EncodeToString(priv.Bytes())
	if err := filex.WriteFileAtomic(s.path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist content key: %w", err)
	}
	return priv, nil
}
