package registry

import (
	"errors"
	"strings"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// executePayload is the JSON body every content authorization program
// responds with. Programs fill only the fields their operation produces.
type executePayload struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Version      string `json:"version"`
	ContentID    string `json:"contentId"`
	TxHash       string `json:"txHash"`
	MirrorTxHash string `json:"mirrorTxHash"`
	PieceCid     string `json:"pieceCid"`
	GatewayURL   string `json:"gatewayUrl"`
}

func (p *executePayload) remoteError(op string) error {
	return &threshold.RemoteError{
		Op:           op,
		Message:      p.Error,
		Version:      p.Version,
		ContentID:    p.ContentID,
		TxHash:       p.TxHash,
		MirrorTxHash: p.MirrorTxHash,
	}
}

// resolvedVersion labels records recovered by resolve rather than written by
// this client, so stale index rows are distinguishable later.
func (p *executePayload) resolvedVersion() string {
	if p.Version != "" {
		return p.Version
	}
	return "resolved"
}

// alreadyRegisteredMarkers are the remote fragments that mean another client
// registered the same content first.
var alreadyRegisteredMarkers = []string{
	"already uploaded",
	"already exists",
	"already registered",
}

// IsAlreadyRegistered reports whether err is a registration failure caused by
// the content already being on record.
func IsAlreadyRegistered(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, common.ErrAlreadyRegistered) {
		return true
	}
	var remote *threshold.RemoteError
	msg := err.Error()
	if errors.As(err, &remote) {
		msg = remote.Message
	}
	return matchesAlreadyRegistered(msg)
}

// matchesAlreadyRegistered classifies a raw remote message.
func matchesAlreadyRegistered(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range alreadyRegisteredMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Contains(lower, "simulation failed") && strings.Contains(lower, "already")
}
