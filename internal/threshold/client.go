package threshold

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dotheaven/heaven-core/internal/common"
)

// Client talks to the threshold signing network.
//
// Contract:
//   - Execute runs an authorization program under the given auth context and
//     returns its result; a program-level failure is returned as
//     (*ExecuteResult, nil) with Success=false, transport and session
//     failures as errors.
//   - Sign produces a threshold ECDSA signature over the exact 32-byte
//     digest; no additional hashing happens server-side.
//   - PersonalSign signs the EIP-191 personal-message hash of msg.
//   - Delegate mints a delegation for a session key using external auth
//     material.
//   - Expired or invalidated sessions surface as common.ErrStaleSession.
type Client interface {
	Network() string
	Execute(ctx context.Context, action Action, params any, auth *AuthContext) (*ExecuteResult, error)
	Sign(ctx context.Context, digest [32]byte, publicKey string, auth *AuthContext) (*Signature, error)
	PersonalSign(ctx context.Context, msg string, publicKey string, auth *AuthContext) ([]byte, error)
	Delegate(ctx context.Context, authData AuthData, sessionPublicKey string, abilities []string, ttl time.Duration) (*DelegationSig, error)
}

// staleSessionMarkers are the remote error fragments that mean the session
// material itself is no longer usable.
var staleSessionMarkers = []string{
	"session key has expired",
	"invalid session signature",
	"session sig expired",
	"expired session",
}

// classifyRemoteError maps well-known remote failures onto sentinel errors
// so callers can branch with errors.Is.
func classifyRemoteError(msg string) error {
	lower := strings.ToLower(msg)
	for _, marker := range staleSessionMarkers {
		if strings.Contains(lower, marker) {
			return common.ErrStaleSession
		}
	}
	return nil
}

// IsStaleSession reports whether err indicates unusable session material.
func IsStaleSession(err error) bool {
	return errors.Is(err, common.ErrStaleSession)
}
