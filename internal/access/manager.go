// Package access grants and revokes per-recipient decryption access to
// registered content. Operations are signed requests executed by the
// threshold network, which enforces the authorization policy and performs
// any on-chain mirroring itself.
package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/contentid"
	"github.com/dotheaven/heaven-core/internal/index"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// grantChunkSize bounds how many content ids one signed request carries.
// Chunking keeps gas risk down for very large playlists while preserving the
// batch fast-path.
const grantChunkSize = 25

// Receipt is the outcome of a grant or revoke operation. For batches that
// fail part-way, Granted and ContentIDs cover the chunks that completed
// before the failure.
type Receipt struct {
	Granted      int
	ContentIDs   []string
	TxHash       string
	MirrorTxHash string
	Version      string
}

// grantPayload is the JSON body the grant/revoke programs respond with.
type grantPayload struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Version      string `json:"version"`
	TxHash       string `json:"txHash"`
	MirrorTxHash string `json:"mirrorTxHash"`
}

// Manager is the access control client.
type Manager struct {
	client   threshold.Client
	actions  *threshold.Registry
	uploaded index.UploadedRepository
	grants   index.GrantRepository
	mirror   string
	log      logging.Logger
}

// NewManager builds the access client. mirror is the on-chain access mirror
// contract address; when non-empty it is passed along so grant and revoke
// receipts carry a mirror transaction.
func NewManager(client threshold.Client, actions *threshold.Registry,
	uploaded index.UploadedRepository, grants index.GrantRepository,
	mirror string, log logging.Logger) *Manager {
	return &Manager{
		client:   client,
		actions:  actions,
		uploaded: uploaded,
		grants:   grants,
		mirror:   strings.ToLower(strings.TrimSpace(mirror)),
		log:      log.With("component", "access"),
	}
}

// Grant gives one recipient decryption access to one content object.
func (m *Manager) Grant(ctx context.Context, session *auth.Session, contentID, grantee string) (*Receipt, error) {
	grantee, err := normalizeGrantee(session.Owner, grantee)
	if err != nil {
		return nil, err
	}
	id, err := contentid.NormalizeHex32(contentID, "contentId")
	if err != nil {
		return nil, err
	}
	return m.submitGrant(ctx, session, []string{id}, grantee)
}

// GrantBatch grants access to a set of content objects in chunks of
// grantChunkSize. Duplicate ids are collapsed case-insensitively before
// signing. A chunk failure stops the batch; the receipt still reports what
// was granted before it.
func (m *Manager) GrantBatch(ctx context.Context, session *auth.Session, contentIDs []string, grantee string) (*Receipt, error) {
	grantee, err := normalizeGrantee(session.Owner, grantee)
	if err != nil {
		return nil, err
	}

	unique := make([]string, 0, len(contentIDs))
	seen := make(map[string]struct{}, len(contentIDs))
	for _, raw := range contentIDs {
		id, err := contentid.NormalizeHex32(raw, "contentId")
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, common.ErrEmptyGrantBatch
	}

	receipt := &Receipt{}
	for start := 0; start < len(unique); start += grantChunkSize {
		end := min(start+grantChunkSize, len(unique))
		chunk := unique[start:end]

		chunkReceipt, err := m.submitGrant(ctx, session, chunk, grantee)
		if err != nil {
			return receipt, err
		}
		receipt.Granted += chunkReceipt.Granted
		receipt.ContentIDs = append(receipt.ContentIDs, chunkReceipt.ContentIDs...)
		receipt.TxHash = chunkReceipt.TxHash
		receipt.MirrorTxHash = chunkReceipt.MirrorTxHash
		receipt.Version = chunkReceipt.Version
		m.log.Info(ctx, "granted access chunk",
			"granted", receipt.Granted, "total", len(unique), "grantee", grantee)
	}
	return receipt, nil
}

// Revoke removes a recipient-independent registration-level grant.
func (m *Manager) Revoke(ctx context.Context, session *auth.Session, contentID string) (*Receipt, error) {
	id, err := contentid.NormalizeHex32(contentID, "contentId")
	if err != nil {
		return nil, err
	}

	ts, nonce := stamp()
	message := fmt.Sprintf("heaven:content:revoke:%s:%s:%s", id, ts, nonce)
	signature, err := m.client.PersonalSign(ctx, message, session.PublicKey, session.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to sign revoke message: %w", err)
	}

	action, err := m.actions.Resolve(threshold.ActionContentRevoke)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"userPublicKey": strings.TrimPrefix(session.PublicKey, "0x"),
		"contentId":     id,
		"datasetOwner":  session.Owner,
		"signature":     common.HexPrefixed(signature),
		"timestamp":     ts,
		"nonce":         nonce,
		"mode":          "revoke",
	}
	if m.mirror != "" {
		params["accessMirror"] = m.mirror
	}
	payload, err := m.execute(ctx, action, params, session.ExecutionAuth())
	if err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, remoteError("content revoke", id, payload)
	}
	return &Receipt{
		ContentIDs:   []string{id},
		TxHash:       payload.TxHash,
		MirrorTxHash: payload.MirrorTxHash,
		Version:      payload.Version,
	}, nil
}

// submitGrant signs and executes one grant request covering ids, then
// appends a grant-log record per content id.
func (m *Manager) submitGrant(ctx context.Context, session *auth.Session, ids []string, grantee string) (*Receipt, error) {
	ts, nonce := stamp()
	message := fmt.Sprintf("heaven:content:grant:%s:%s:%s:%s", idsDigest(ids), grantee, ts, nonce)
	signature, err := m.client.PersonalSign(ctx, message, session.PublicKey, session.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to sign grant message: %w", err)
	}

	action, err := m.actions.Resolve(threshold.ActionContentGrant)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"userPublicKey": strings.TrimPrefix(session.PublicKey, "0x"),
		"contentIds":    ids,
		"grantee":       grantee,
		"datasetOwner":  session.Owner,
		"signature":     common.HexPrefixed(signature),
		"timestamp":     ts,
		"nonce":         nonce,
	}
	if m.mirror != "" {
		params["accessMirror"] = m.mirror
	}
	payload, err := m.execute(ctx, action, params, session.ExecutionAuth())
	if err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, remoteError("content grant", strings.Join(ids, ","), payload)
	}

	for _, id := range ids {
		m.recordGrant(ctx, session.Owner, grantee, id, payload)
	}
	return &Receipt{
		Granted:      len(ids),
		ContentIDs:   ids,
		TxHash:       payload.TxHash,
		MirrorTxHash: payload.MirrorTxHash,
		Version:      payload.Version,
	}, nil
}

func (m *Manager) execute(ctx context.Context, action threshold.Action, params any, authCtx *threshold.AuthContext) (*grantPayload, error) {
	result, err := m.client.Execute(ctx, action, params, authCtx)
	if err != nil {
		return nil, err
	}
	payload := &grantPayload{}
	if err := result.Decode(payload); err != nil {
		if !result.Success {
			return nil, fmt.Errorf("program execution failed without a response (logs: %s)", result.Logs)
		}
		return nil, err
	}
	return payload, nil
}

// recordGrant appends to the local grant log. Log failures are not fatal:
// the grant already happened remotely.
func (m *Manager) recordGrant(ctx context.Context, owner, grantee, contentID string, payload *grantPayload) {
	rec := &index.GrantRecord{
		OwnerAddress:   owner,
		GranteeAddress: grantee,
		ContentID:      contentID,
		TxHash:         payload.TxHash,
		MirrorTxHash:   payload.MirrorTxHash,
	}
	if up, err := m.uploaded.GetByContentID(ctx, owner, contentID); err == nil {
		rec.PieceRef = up.PieceRef
		rec.GatewayURL = up.GatewayURL
	}
	if err := m.grants.Append(ctx, rec); err != nil {
		m.log.Warn(ctx, "failed to persist grant record",
			"contentId", contentID, "grantee", grantee, "error", err)
	}
}

func normalizeGrantee(owner, grantee string) (string, error) {
	if !ethcommon.IsHexAddress(grantee) {
		return "", fmt.Errorf("invalid grantee wallet address: %s", grantee)
	}
	normalized := strings.ToLower(ethcommon.HexToAddress(grantee).Hex())
	if strings.EqualFold(owner, normalized) {
		return "", fmt.Errorf("cannot share content with your own wallet address")
	}
	return normalized, nil
}

func remoteError(op, contentID string, payload *grantPayload) error {
	return &threshold.RemoteError{
		Op:           op,
		Message:      payload.Error,
		Version:      payload.Version,
		ContentID:    contentID,
		TxHash:       payload.TxHash,
		MirrorTxHash: payload.MirrorTxHash,
	}
}

// idsDigest hashes the id set being signed so the message stays fixed-size
// regardless of batch size.
func idsDigest(ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(ids, ":")))
	return hex.EncodeToString(sum[:])
}

func stamp() (timestamp, nonce string) {
	return strconv.FormatInt(time.Now().UnixMilli(), 10),
		strings.ReplaceAll(uuid.NewString(), "-", "")
}
