package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/envelope"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// decryptResponse is the decrypt-key program response. Payload carries the
// key payload JSON the program recovered.
type decryptResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Payload string `json:"payload"`
}

// Open fetches and decrypts a registered content object. The local content
// key is tried first; content wrapped to someone else's key goes through the
// decrypt-key authorization program. An incompatible envelope is a hard
// failure: the content has to be shared to this wallet again.
func (s *Service) Open(ctx context.Context, session *auth.Session, contentID string) ([]byte, error) {
	contentID = strings.ToLower(contentID)

	rec, err := s.uploaded.GetByContentID(ctx, session.Owner, contentID)
	if err != nil {
		return nil, fmt.Errorf("no local record for %s: %w", contentID, err)
	}
	if !rec.Valid() {
		return nil, fmt.Errorf("local record for %s has no piece reference", contentID)
	}

	raw, err := s.store.Fetch(ctx, rec.PieceRef, rec.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content blob: %w", err)
	}

	blob, err := envelope.Parse(raw)
	if err != nil {
		return nil, err
	}
	if blob.Algo != envelope.AlgoAESGCM256 {
		return nil, fmt.Errorf("%w: unsupported payload algo %d", common.ErrIncompatibleEnvelope, blob.Algo)
	}

	key, err := s.recoverKey(ctx, session, contentID, blob)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	return envelope.DecryptPayload(key, blob.IV, blob.Payload)
}

// recoverKey unwraps the content key locally when the envelope targets this
// wallet's content key, and falls back to the network otherwise.
func (s *Service) recoverKey(ctx context.Context, session *auth.Session, contentID string, blob *envelope.Blob) ([]byte, error) {
	var wrapped envelope.WrappedKey
	if err := sonic.Unmarshal(blob.KeyCiphertext, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: unreadable key envelope", common.ErrIncompatibleEnvelope)
	}

	if strings.EqualFold(wrapped.Grantee, session.Owner) {
		priv, err := s.keys.ContentKey()
		if err != nil {
			return nil, err
		}
		keyPayload, err := wrapped.Unwrap(priv, contentID, session.Owner)
		if err != nil {
			if errors.Is(err, common.ErrIncompatibleEnvelope) {
				return nil, err
			}
			s.log.Warn(ctx, "local unwrap failed, asking the network",
				"contentId", contentID, "error", err)
			return s.networkKey(ctx, session, contentID, blob)
		}
		return envelope.DecodeKeyPayload(keyPayload, contentID)
	}

	return s.networkKey(ctx, session, contentID, blob)
}

func (s *Service) networkKey(ctx context.Context, session *auth.Session, contentID string, blob *envelope.Blob) ([]byte, error) {
	action, err := s.actions.Resolve(threshold.ActionDecryptKey)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"contentId":     contentID,
		"grantee":       strings.ToLower(session.Owner),
		"keyCiphertext": string(blob.KeyCiphertext),
		"keyHash":       common.HexPrefixed(blob.KeyHash),
	}
	result, err := s.client.Execute(ctx, action, params, session.Auth)
	if err != nil {
		return nil, err
	}
	resp := &decryptResponse{}
	if err := result.Decode(resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Payload == "" {
		return nil, &threshold.RemoteError{
			Op:        "key decryption",
			Message:   resp.Error,
			ContentID: contentID,
		}
	}
	return envelope.DecodeKeyPayload([]byte(resp.Payload), contentID)
}
