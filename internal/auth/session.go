package auth

import (
	"fmt"
	"time"

	"github.com/dotheaven/heaven-core/internal/keystore"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// Session is everything a content operation needs to act as the user: the
// wallet identity, the delegated public key, and the auth contexts to
// execute and sign with.
type Session struct {
	Owner     string
	PublicKey string
	Auth      *threshold.AuthContext

	// SponsorAuth, when set, is used for registrations the sponsor wallet
	// pays for instead of the user's own context.
	SponsorAuth *threshold.AuthContext
}

// NewSession pairs a resolved auth context with the persisted identity.
func NewSession(cred *keystore.Credential, resolved *Resolved) *Session {
	return &Session{
		Owner:     cred.Address,
		PublicKey: cred.PublicKey,
		Auth:      resolved.Context,
	}
}

// AttachSponsor mints an execution context from the sponsor wallet's private
// key and attaches it, so registrations run on the sponsor's dime.
func (s *Session) AttachSponsor(privateKeyHex, network string, ttl time.Duration) error {
	sponsor, err := threshold.NewAuthContextFromWallet(privateKeyHex,
		"Heaven sponsor execution", "localhost", ttl, network,
		[]string{threshold.AbilityExecution})
	if err != nil {
		return fmt.Errorf("failed to build sponsor auth context: %w", err)
	}
	s.SponsorAuth = sponsor
	return nil
}

// ExecutionAuth returns the context registrations should execute under: the
// sponsor context when present, the user's own otherwise.
func (s *Session) ExecutionAuth() *threshold.AuthContext {
	if s.SponsorAuth != nil {
		return s.SponsorAuth
	}
	return s.Auth
}
