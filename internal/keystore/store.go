package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/filex"
)

// Store loads and saves the persisted credential.
//
// Contract:
//   - Load returns common.ErrNoCredential when nothing is persisted.
//   - Save replaces the whole credential atomically.
//   - Delete removes the credential; deleting a missing credential is not an
//     error.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context) error
}

// File frame: enc:v1:<salt hex>:<iv hex>:<ciphertext base64>. Files written
// before encryption at rest was introduced hold plain JSON and are migrated
// on the next save.
const encPrefix = "enc:v1:"

// FileStore keeps the credential in a single encrypted file.
type FileStore struct {
	path   string
	secret []byte
}

func NewFileStore(path string, secret []byte) *FileStore {
	return &FileStore{path: path, secret: secret}
}

func (s *FileStore) Load(ctx context.Context) (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, common.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	plain, err := s.decrypt(data)
	if err != nil {
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return &cred, nil
}

func (s *FileStore) Save(ctx context.Context, cred *Credential) error {
	if cred.Version == 0 {
		cred.Version = CurrentVersion
	}
	plain, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	framed, err := s.encrypt(plain)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(s.path, framed, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}

func (s *FileStore) encrypt(plain []byte) ([]byte, error) {
	salt := common.RandBytes(16)
	iv := common.RandBytes(12)

	aead, err := newGCM(deriveKey(s.secret, salt))
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, iv, plain, nil)

	frame := encPrefix + hex.EncodeToString(salt) + ":" + hex.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ct)
	return []byte(frame), nil
}

func (s *FileStore) decrypt(data []byte) ([]byte, error) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, encPrefix) {
		// legacy plaintext file
		return data, nil
	}

	parts := strings.SplitN(strings.TrimPrefix(text, encPrefix), ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed credential file frame")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed credential salt: %w", err)
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed credential iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("malformed credential ciphertext: %w", err)
	}

	aead, err := newGCM(deriveKey(s.secret, salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential file: %w", err)
	}
	return plain, nil
}

func deriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
