package threshold

import (
	"fmt"
	"strings"
)

// RemoteError is a program-level failure reported by an authorization
// program. It keeps the protocol version and any transaction hashes the
// program produced before failing, which is what debugging asymmetric
// on-chain/off-chain state needs.
type RemoteError struct {
	Op           string
	Message      string
	Version      string
	ContentID    string
	TxHash       string
	MirrorTxHash string
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed: %s", e.Op, orUnknown(e.Message))
	fmt.Fprintf(&b, " (version=%s", orUnknown(e.Version))
	if e.ContentID != "" {
		fmt.Fprintf(&b, ", contentId=%s", e.ContentID)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, ", txHash=%s", e.TxHash)
	}
	if e.MirrorTxHash != "" {
		fmt.Fprintf(&b, ", mirrorTxHash=%s", e.MirrorTxHash)
	}
	b.WriteString(")")
	return b.String()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
