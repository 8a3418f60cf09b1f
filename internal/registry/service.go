// Package registry resolves, uploads, and registers content objects
// idempotently: already-registered content is never re-uploaded, and a
// registration race loses gracefully by re-resolving.
package registry

import (
	"context"
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/contentid"
	"github.com/dotheaven/heaven-core/internal/envelope"
	"github.com/dotheaven/heaven-core/internal/index"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/storage"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// TrackMeta identifies one track. Empty title/artist/album fall back to
// values inferred from the file name.
type TrackMeta struct {
	Title  string
	Artist string
	Album  string
	MBID   string
	IPID   string
}

// Storage is the storage surface the registry needs.
type Storage interface {
	Preflight(ctx context.Context, owner string, sizeBytes int) error
	Upload(ctx context.Context, blob []byte, contentType string) (*storage.Uploaded, error)
	Fetch(ctx context.Context, pieceRef, recordedURL string) ([]byte, error)
}

// ContentKeyProvider supplies the local key pair content keys are wrapped to.
type ContentKeyProvider interface {
	ContentKey() (*ecdh.PrivateKey, error)
}

// Service is the content registry client.
//
// Contract:
//   - ResolveOrRegister never re-uploads content the network already knows;
//     a successful resolve is authoritative.
//   - An "already registered" write failure triggers exactly one re-resolve.
//   - Every returned record carries a piece reference and a 0x-prefixed
//     content id; anything less is an error, not a partial result.
type Service struct {
	client   threshold.Client
	actions  *threshold.Registry
	store    Storage
	uploaded index.UploadedRepository
	keys     ContentKeyProvider
	log      logging.Logger
}

func NewService(client threshold.Client, actions *threshold.Registry, store Storage,
	uploaded index.UploadedRepository, keys ContentKeyProvider, log logging.Logger) *Service {
	return &Service{
		client:   client,
		actions:  actions,
		store:    store,
		uploaded: uploaded,
		keys:     keys,
		log:      log.With("component", "registry"),
	}
}

// ResolveOrRegister returns the registered record for a track, uploading and
// registering it first when the network has never seen it.
func (s *Service) ResolveOrRegister(ctx context.Context, session *auth.Session, filePath string, meta TrackMeta) (*index.UploadedRecord, error) {
	trackID, contentID, err := s.deriveIDs(filePath, &meta, session.Owner)
	if err != nil {
		return nil, err
	}

	rec, resolveErr := s.resolve(ctx, session, trackID, contentID)
	if resolveErr == nil {
		return rec, nil
	}
	s.log.Info(ctx, "resolve found nothing, checking local records",
		"contentId", contentID, "error", resolveErr)

	if cached := s.cachedRecord(ctx, session.Owner, contentID, filePath); cached != nil {
		s.log.Info(ctx, "using cached uploaded record", "contentId", contentID)
		return cached, nil
	}

	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("content not registered and source file unavailable (%s): %w", filePath, resolveErr)
	}

	return s.uploadAndRegister(ctx, session, filePath, source, trackID, contentID, meta)
}

// SaveForever registers the track if needed and flags its record permanent,
// so local cache eviction never drops it.
func (s *Service) SaveForever(ctx context.Context, session *auth.Session, filePath string, meta TrackMeta) (*index.UploadedRecord, error) {
	rec, err := s.ResolveOrRegister(ctx, session, filePath, meta)
	if err != nil {
		return nil, err
	}
	if err := s.uploaded.MarkSavedForever(ctx, rec.OwnerAddress, rec.ContentID); err != nil {
		return nil, fmt.Errorf("failed to flag %s as saved forever: %w", rec.ContentID, err)
	}
	rec.SavedForever = true
	s.log.Info(ctx, "content saved forever", "contentId", rec.ContentID)
	return rec, nil
}

// Resolve finds an existing registration without ever uploading: network
// resolve first, then the local index. Batch callers use this for tracks
// that may not be uploaded anymore, e.g. after a quota failure.
func (s *Service) Resolve(ctx context.Context, session *auth.Session, filePath string, meta TrackMeta) (*index.UploadedRecord, error) {
	trackID, contentID, err := s.deriveIDs(filePath, &meta, session.Owner)
	if err != nil {
		return nil, err
	}
	rec, resolveErr := s.resolve(ctx, session, trackID, contentID)
	if resolveErr == nil {
		return rec, nil
	}
	if cached := s.cachedRecord(ctx, session.Owner, contentID, filePath); cached != nil {
		return cached, nil
	}
	return nil, resolveErr
}

// ReplaceByTrackID re-encrypts and re-registers new bytes under an existing
// track id, deactivating the previous registration first.
func (s *Service) ReplaceByTrackID(ctx context.Context, session *auth.Session, filePath, trackIDHex string, meta TrackMeta) (*index.UploadedRecord, error) {
	trackID, err := contentid.NormalizeHex32(trackIDHex, "trackId")
	if err != nil {
		return nil, err
	}
	trackHash, err := contentid.DecodeHex32(trackID, "trackId")
	if err != nil {
		return nil, err
	}
	contentHash, err := contentid.ContentID(trackHash, session.Owner)
	if err != nil {
		return nil, err
	}
	contentID := strings.ToLower(contentHash.Hex())

	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file for replacement (%s): %w", filePath, err)
	}

	if existing, err := s.uploaded.GetByContentID(ctx, session.Owner, contentID); err == nil && existing.Valid() {
		if err := s.Deactivate(ctx, session, contentID); err != nil {
			s.log.Warn(ctx, "deactivation before replace failed, continuing",
				"contentId", contentID, "error", err)
		}
	}

	return s.uploadAndRegister(ctx, session, filePath, source, trackID, contentID, meta)
}

// Deactivate marks a registered content object inactive via a signed request.
func (s *Service) Deactivate(ctx context.Context, session *auth.Session, contentID string) error {
	contentID = strings.ToLower(contentID)
	ts, nonce := messageStamp()
	message := fmt.Sprintf("heaven:content:deactivate:%s:%s:%s", contentID, ts, nonce)

	signature, err := s.client.PersonalSign(ctx, message, session.PublicKey, session.Auth)
	if err != nil {
		return fmt.Errorf("failed to sign deactivation message: %w", err)
	}

	action, err := s.actions.Resolve(threshold.ActionContentRevoke)
	if err != nil {
		return err
	}
	params := map[string]any{
		"contentId":    contentID,
		"datasetOwner": session.Owner,
		"signature":    common.HexPrefixed(signature),
		"timestamp":    ts,
		"nonce":        nonce,
		"mode":         "deactivate",
	}
	payload, err := s.execute(ctx, action, params, session.ExecutionAuth())
	if err != nil {
		return err
	}
	if !payload.Success {
		return payload.remoteError("content deactivation")
	}
	return nil
}

func (s *Service) deriveIDs(filePath string, meta *TrackMeta, owner string) (trackID, contentID string, err error) {
	title, artist, album := contentid.InferTrackMeta(filePath)
	if v := strings.TrimSpace(meta.Title); v != "" {
		title = v
	}
	if v := strings.TrimSpace(meta.Artist); v != "" {
		artist = v
	}
	if v := strings.TrimSpace(meta.Album); v != "" {
		album = v
	}
	meta.Title, meta.Artist, meta.Album = title, artist, album

	trackHash, err := contentid.TrackID(title, artist, album, meta.MBID, meta.IPID)
	if err != nil {
		return "", "", err
	}
	contentHash, err := contentid.ContentID(trackHash, owner)
	if err != nil {
		return "", "", err
	}
	return strings.ToLower(trackHash.Hex()), strings.ToLower(contentHash.Hex()), nil
}

// resolve asks the network for an existing registration.
func (s *Service) resolve(ctx context.Context, session *auth.Session, trackID, contentID string) (*index.UploadedRecord, error) {
	action, err := s.actions.Resolve(threshold.ActionContentResolve)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"trackId":   trackID,
		"contentId": contentID,
		"owner":     strings.ToLower(session.Owner),
	}
	payload, err := s.execute(ctx, action, params, session.Auth)
	if err != nil {
		return nil, err
	}
	if !payload.Success || payload.PieceCid == "" {
		return nil, payload.remoteError("content resolve")
	}

	rec := &index.UploadedRecord{
		OwnerAddress:    session.Owner,
		ContentID:       contentID,
		PieceRef:        payload.PieceCid,
		GatewayURL:      payload.GatewayURL,
		TxHash:          payload.TxHash,
		RegisterVersion: payload.resolvedVersion(),
	}
	if !rec.Valid() {
		return nil, fmt.Errorf("resolve returned an incomplete record for %s", contentID)
	}
	s.persistRecord(ctx, rec, "")
	return rec, nil
}

// cachedRecord returns a locally known valid record, by content id first and
// file path second.
func (s *Service) cachedRecord(ctx context.Context, owner, contentID, filePath string) *index.UploadedRecord {
	if rec, err := s.uploaded.GetByContentID(ctx, owner, contentID); err == nil && rec.Valid() {
		return rec
	}
	if rec, err := s.uploaded.GetByPath(ctx, owner, filePath); err == nil && rec.Valid() &&
		strings.EqualFold(rec.ContentID, contentID) {
		return rec
	}
	return nil
}

func (s *Service) uploadAndRegister(ctx context.Context, session *auth.Session, filePath string, source []byte, trackID, contentID string, meta TrackMeta) (*index.UploadedRecord, error) {
	blob, err := s.encryptForUpload(source, contentID, session.Owner)
	if err != nil {
		return nil, err
	}

	if err := s.store.Preflight(ctx, session.Owner, len(blob)); err != nil {
		return nil, err
	}

	up, err := s.store.Upload(ctx, blob, inferContentType(filePath))
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	payload, err := s.register(ctx, session, trackID, up.PieceRef, meta)
	if err != nil {
		if !IsAlreadyRegistered(err) {
			return nil, err
		}
		// Another client won the registration race; theirs is authoritative.
		s.log.Warn(ctx, "registration reported already-registered, re-resolving", "contentId", contentID)
		rec, retryErr := s.resolve(ctx, session, trackID, contentID)
		if retryErr != nil {
			return nil, fmt.Errorf("resolve after already-registered failed: %w (original: %w)", retryErr, err)
		}
		return rec, nil
	}

	rec := &index.UploadedRecord{
		OwnerAddress:    session.Owner,
		ContentID:       contentID,
		FilePath:        filePath,
		PieceRef:        up.PieceRef,
		GatewayURL:      up.GatewayURL,
		TxHash:          payload.TxHash,
		RegisterVersion: payload.Version,
	}
	if !rec.Valid() {
		return nil, fmt.Errorf("registration response incomplete for %s: missing piece reference or content id", contentID)
	}
	s.persistRecord(ctx, rec, filePath)
	s.log.Info(ctx, "content registered",
		"contentId", contentID, "pieceRef", up.PieceRef, "txHash", payload.TxHash)
	return rec, nil
}

// encryptForUpload produces the wire blob: the payload under a fresh
// symmetric key, that key wrapped to the local content key pair.
func (s *Service) encryptForUpload(source []byte, contentID, owner string) ([]byte, error) {
	key, iv, ciphertext, err := envelope.EncryptPayload(source)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	keyPayload, err := envelope.EncodeKeyPayload(contentID, key)
	if err != nil {
		return nil, err
	}

	contentKey, err := s.keys.ContentKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := envelope.WrapKey(contentKey.PublicKey().Bytes(), keyPayload, contentID, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}
	wrappedJSON, err := sonic.Marshal(wrapped)
	if err != nil {
		return nil, err
	}

	keyHash := sha256.Sum256(keyPayload)
	blob := &envelope.Blob{
		KeyCiphertext: wrappedJSON,
		KeyHash:       keyHash[:],
		Algo:          envelope.AlgoAESGCM256,
		IV:            iv,
		Payload:       ciphertext,
	}
	return blob.Encode(), nil
}

// register submits the signed registration request.
func (s *Service) register(ctx context.Context, session *auth.Session, trackID, pieceRef string, meta TrackMeta) (*executePayload, error) {
	pieceBytes, err := contentid.BytesFromPieceRef(pieceRef)
	if err != nil {
		return nil, err
	}

	ts, nonce := messageStamp()
	message := fmt.Sprintf("heaven:content:register:%s:%s:%s:%d:%s:%s",
		trackID, common.Sha256Hex(pieceBytes), strings.ToLower(session.Owner),
		envelope.AlgoAESGCM256, ts, nonce)

	signature, err := s.client.PersonalSign(ctx, message, session.PublicKey, session.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to sign register message: %w", err)
	}

	action, err := s.actions.Resolve(threshold.ActionContentRegister)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "resolved register action", "source", action.Source())

	params := map[string]any{
		"userPublicKey": strings.TrimPrefix(session.PublicKey, "0x"),
		"trackId":       trackID,
		"pieceCid":      pieceRef,
		"datasetOwner":  session.Owner,
		"signature":     common.HexPrefixed(signature),
		"algo":          envelope.AlgoAESGCM256,
		"title":         meta.Title,
		"artist":        meta.Artist,
		"album":         meta.Album,
		"timestamp":     ts,
		"nonce":         nonce,
	}
	payload, err := s.execute(ctx, action, params, session.ExecutionAuth())
	if err != nil {
		return nil, err
	}
	if !payload.Success {
		remote := payload.remoteError("content register")
		if matchesAlreadyRegistered(payload.Error) {
			return nil, fmt.Errorf("%w: %w", common.ErrAlreadyRegistered, remote)
		}
		return nil, remote
	}
	return payload, nil
}

func (s *Service) execute(ctx context.Context, action threshold.Action, params any, authCtx *threshold.AuthContext) (*executePayload, error) {
	result, err := s.client.Execute(ctx, action, params, authCtx)
	if err != nil {
		return nil, err
	}
	payload := &executePayload{}
	if err := result.Decode(payload); err != nil {
		if !result.Success {
			return nil, fmt.Errorf("program execution failed without a response (logs: %s)", result.Logs)
		}
		return nil, err
	}
	return payload, nil
}

func (s *Service) persistRecord(ctx context.Context, rec *index.UploadedRecord, filePath string) {
	if filePath != "" {
		rec.FilePath = filePath
	}
	if err := s.uploaded.Upsert(ctx, rec); err != nil {
		s.log.Warn(ctx, "failed to persist uploaded record", "contentId", rec.ContentID, "error", err)
	}
}

func messageStamp() (timestamp, nonce string) {
	return strconv.FormatInt(time.Now().UnixMilli(), 10),
		strings.ReplaceAll(uuid.NewString(), "-", "")
}

func inferContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a", ".aac":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
