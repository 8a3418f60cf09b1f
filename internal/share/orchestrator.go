// Package share batches content registration and access grants into one
// playlist-share workflow with partial-failure reporting.
package share

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotheaven/heaven-core/internal/access"
	"github.com/dotheaven/heaven-core/internal/auth"
	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/contentid"
	"github.com/dotheaven/heaven-core/internal/index"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/registry"
	"github.com/dotheaven/heaven-core/internal/storage"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// maxReportedFailures bounds how many per-track reasons a summary spells out
// before collapsing the rest into a count.
const maxReportedFailures = 3

// TrackRef is one playlist entry to share.
type TrackRef struct {
	FilePath string
	Meta     registry.TrackMeta
}

func (t TrackRef) label() string {
	if v := strings.TrimSpace(t.Meta.Title); v != "" {
		return v
	}
	return t.FilePath
}

// Outcome aggregates one share run. The three failure axes are reported
// independently: any subset can fail while the others succeed.
type Outcome struct {
	Granted     int
	Total       int // unique content ids handed to the grant step
	Failures    []string
	GrantErrors []string
	RecordErr   error
}

// FullSuccess reports whether every track was prepared, granted, and the
// share recorded.
func (o *Outcome) FullSuccess() bool {
	return len(o.Failures) == 0 && len(o.GrantErrors) == 0 && o.RecordErr == nil
}

// Summary renders the most specific user-facing message available.
func (o *Outcome) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "granted %d/%d", o.Granted, o.Total)
	if len(o.Failures) > 0 {
		fmt.Fprintf(&b, "; %s", summarize("track failures", o.Failures))
	}
	if len(o.GrantErrors) > 0 {
		fmt.Fprintf(&b, "; %s", summarize("grant errors", o.GrantErrors))
	}
	if o.RecordErr != nil {
		fmt.Fprintf(&b, "; share record failed: %v", o.RecordErr)
	}
	return b.String()
}

func summarize(label string, reasons []string) string {
	shown := reasons
	if len(shown) > maxReportedFailures {
		shown = shown[:maxReportedFailures]
	}
	out := label + ": " + strings.Join(shown, "; ")
	if rest := len(reasons) - len(shown); rest > 0 {
		out += fmt.Sprintf(" (and %d more)", rest)
	}
	return out
}

// Registrar is the registry surface the orchestrator drives.
type Registrar interface {
	Resolve(ctx context.Context, session *auth.Session, filePath string, meta registry.TrackMeta) (*index.UploadedRecord, error)
	ResolveOrRegister(ctx context.Context, session *auth.Session, filePath string, meta registry.TrackMeta) (*index.UploadedRecord, error)
}

// Granter is the access-control surface the orchestrator drives.
type Granter interface {
	GrantBatch(ctx context.Context, session *auth.Session, contentIDs []string, grantee string) (*access.Receipt, error)
}

// Orchestrator shares playlists: per-track prep, batch grant, share record.
//
// Contract:
//   - Tracks are processed strictly sequentially, in submission order.
//   - One quota failure disables uploads for the rest of the batch; later
//     tracks still try resolution.
//   - Zero prepared tracks is a hard failure; anything else degrades into
//     the outcome's failure lists.
type Orchestrator struct {
	registrar Registrar
	granter   Granter
	client    threshold.Client
	actions   *threshold.Registry
	log       logging.Logger
}

func NewOrchestrator(registrar Registrar, granter Granter, client threshold.Client,
	actions *threshold.Registry, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		registrar: registrar,
		granter:   granter,
		client:    client,
		actions:   actions,
		log:       log.With("component", "share"),
	}
}

// SharePlaylist prepares every track, grants the unique content ids to the
// grantee, and records the playlist share.
func (o *Orchestrator) SharePlaylist(ctx context.Context, session *auth.Session, playlistID, grantee string, tracks []TrackRef) (*Outcome, error) {
	outcome := &Outcome{}

	contentIDs := make([]string, 0, len(tracks))
	seen := make(map[string]struct{}, len(tracks))
	quotaBlocked := false

	for i, track := range tracks {
		var rec *index.UploadedRecord
		var err error
		if quotaBlocked {
			rec, err = o.registrar.Resolve(ctx, session, track.FilePath, track.Meta)
		} else {
			rec, err = o.registrar.ResolveOrRegister(ctx, session, track.FilePath, track.Meta)
		}
		if err != nil {
			if storage.IsQuotaError(err) && !quotaBlocked {
				quotaBlocked = true
				o.log.Warn(ctx, "quota exhausted, uploads disabled for the rest of the batch",
					"track", track.label())
			}
			outcome.Failures = append(outcome.Failures,
				fmt.Sprintf("track %d (%s): %v", i+1, track.label(), err))
			continue
		}

		id := strings.ToLower(rec.ContentID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		contentIDs = append(contentIDs, id)
	}

	outcome.Total = len(contentIDs)
	if len(contentIDs) == 0 {
		return outcome, fmt.Errorf("nothing to share: %s", summarize("track failures", outcome.Failures))
	}

	receipt, err := o.granter.GrantBatch(ctx, session, contentIDs, grantee)
	if receipt != nil {
		outcome.Granted = receipt.Granted
	}
	if err != nil {
		outcome.GrantErrors = append(outcome.GrantErrors, err.Error())
	}

	if outcome.RecordErr = o.RecordPlaylistShare(ctx, session, playlistID, grantee, "share"); outcome.RecordErr != nil {
		o.log.Warn(ctx, "playlist share record failed", "error", outcome.RecordErr)
	}

	o.log.Info(ctx, "playlist share finished",
		"granted", outcome.Granted, "total", outcome.Total,
		"failures", len(outcome.Failures), "grantErrors", len(outcome.GrantErrors))
	return outcome, nil
}

// recordPayload is the share-record program response.
type recordPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Version string `json:"version"`
	TxHash  string `json:"txHash"`
}

// RecordPlaylistShare submits the signed playlist share/unshare record.
func (o *Orchestrator) RecordPlaylistShare(ctx context.Context, session *auth.Session, playlistID, grantee, operation string) error {
	operation = strings.TrimSpace(operation)
	if operation != "share" && operation != "unshare" {
		return fmt.Errorf("invalid playlist share operation: %s", operation)
	}
	id, err := contentid.NormalizeHex32(playlistID, "playlistId")
	if err != nil {
		return err
	}
	grantee = strings.ToLower(grantee)

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	message := fmt.Sprintf("heaven:playlist:%s:%s:%s:%s:%s", operation, id, grantee, ts, nonce)

	signature, err := o.client.PersonalSign(ctx, message, session.PublicKey, session.Auth)
	if err != nil {
		return fmt.Errorf("failed to sign playlist share message: %w", err)
	}

	action, err := o.actions.Resolve(threshold.ActionShareRecord)
	if err != nil {
		return err
	}
	result, err := o.client.Execute(ctx, action, map[string]any{
		"userPublicKey": strings.TrimPrefix(session.PublicKey, "0x"),
		"operation":     operation,
		"playlistId":    id,
		"grantee":       grantee,
		"timestamp":     ts,
		"nonce":         nonce,
		"signature":     common.HexPrefixed(signature),
	}, session.ExecutionAuth())
	if err != nil {
		return err
	}
	payload := &recordPayload{}
	if err := result.Decode(payload); err != nil {
		if !result.Success {
			return fmt.Errorf("program execution failed without a response (logs: %s)", result.Logs)
		}
		return err
	}
	if !payload.Success {
		return &threshold.RemoteError{
			Op:      "playlist share record",
			Message: payload.Error,
			Version: payload.Version,
			TxHash:  payload.TxHash,
		}
	}
	return nil
}
