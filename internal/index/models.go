// Package index is the local record of what this client has uploaded and
// shared: an uploaded-content table keyed by owner and content id, and an
// append-only grant log.
package index

import (
	"strings"
	"time"
)

// UploadedRecord is one registered content object as this client knows it.
type UploadedRecord struct {
	ID              string
	OwnerAddress    string
	ContentID       string
	FilePath        string
	PieceRef        string
	GatewayURL      string
	TxHash          string
	RegisterVersion string
	SavedForever    bool
	CreatedAt       time.Time
}

// Valid reports whether the record is complete enough to act on: a piece
// reference and a 0x-prefixed content id. Incomplete records are treated as
// absent, never trusted.
func (r *UploadedRecord) Valid() bool {
	if r == nil {
		return false
	}
	return strings.TrimSpace(r.PieceRef) != "" &&
		strings.HasPrefix(strings.TrimSpace(r.ContentID), "0x")
}

// GrantRecord is one access grant in the append-only log.
type GrantRecord struct {
	ID             string
	OwnerAddress   string
	GranteeAddress string
	ContentID      string
	PieceRef       string
	GatewayURL     string
	TxHash         string
	MirrorTxHash   string
	SharedAt       time.Time
}
