// Package auth turns persisted credentials into working threshold auth
// contexts, preferring cached session material and falling back to external
// auth methods when the cache no longer signs.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/keystore"
	"github.com/dotheaven/heaven-core/internal/logging"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// probeMessage is signed to verify that an auth context actually works
// before it is handed to callers.
const probeMessage = "heaven-auth-probe"

// Resolved is a working auth context plus how it was obtained.
type Resolved struct {
	Context *threshold.AuthContext

	// AuthMethodID is the external candidate that produced the context,
	// empty when the cached delegation was used.
	AuthMethodID string
}

// Resolver builds auth contexts for the persisted credential.
//
// Contract:
//   - Resolve returns common.ErrNoCredential when nothing is persisted and
//     common.ErrNoAuthContext when no material produces a working context.
//   - A returned context has been probe-signed, its delegation signer equals
//     the credential address, and it carries the execution ability.
//   - Freshly minted delegations are re-cached best effort; a failed cache
//     write is logged, never fatal.
type Resolver struct {
	store  keystore.Store
	client threshold.Client
	log    logging.Logger

	sessionTTL time.Duration

	// PreferExternal makes Resolve try external auth material before a
	// still-valid cached delegation, keeping the cached one as fallback.
	// Used to pick up refreshed delegation capabilities.
	PreferExternal bool
}

func NewResolver(store keystore.Store, client threshold.Client, sessionTTL time.Duration, log logging.Logger) *Resolver {
	return &Resolver{
		store:      store,
		client:     client,
		log:        log.With("component", "auth"),
		sessionTTL: sessionTTL,
	}
}

// Resolve produces a verified auth context for the persisted credential.
func (r *Resolver) Resolve(ctx context.Context) (*Resolved, error) {
	cred, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cred.PublicKey == "" {
		return nil, fmt.Errorf("credential is missing the delegated public key")
	}
	if cred.Address == "" {
		return nil, fmt.Errorf("credential is missing the wallet address")
	}

	candidates := candidateAuthData(cred)
	if !cred.HasCachedDelegation() && len(candidates) == 0 {
		return nil, fmt.Errorf("%w: credential has neither cached delegation nor external auth material", common.ErrNoAuthContext)
	}

	var probeDigest [32]byte
	copy(probeDigest[:], crypto.Keccak256([]byte(probeMessage)))

	var lastErr error
	var cachedFallback *threshold.AuthContext

	if cached := cred.CachedAuthContext(r.client.Network()); cached != nil {
		switch err := r.verify(ctx, cached, cred.PublicKey, cred.Address, probeDigest); {
		case err != nil:
			r.log.Warn(ctx, "cached delegation unusable, trying external auth material", "error", err)
			lastErr = err

		case !cached.HasAbility(threshold.AbilityExecution):
			if len(candidates) == 0 {
				lastErr = fmt.Errorf("cached delegation is missing the execution ability and no external auth material is available")
				r.log.Warn(ctx, "cached delegation missing execution ability, re-auth required")
			} else {
				r.log.Warn(ctx, "cached delegation missing execution ability, rebuilding from external auth material")
			}

		case len(candidates) == 0 || !r.PreferExternal:
			r.log.Info(ctx, "using cached delegation", "signer", cached.Delegation.Address)
			return &Resolved{Context: cached}, nil

		default:
			r.log.Info(ctx, "cached delegation valid, trying external auth material first for refreshed capabilities")
			cachedFallback = cached
		}
	}

	for _, candidate := range candidates {
		resolved, err := r.mint(ctx, candidate, cred.PublicKey, cred.Address, probeDigest)
		if err != nil {
			r.log.Warn(ctx, "auth candidate failed, trying next",
				"authMethodId", candidate.AuthMethodID, "error", err)
			lastErr = err
			continue
		}
		r.cache(ctx, cred, resolved.Context, true)
		return resolved, nil
	}

	if cachedFallback != nil {
		r.log.Info(ctx, "falling back to cached delegation after external attempts failed")
		return &Resolved{Context: cachedFallback}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrNoAuthContext, lastErr)
	}
	return nil, common.ErrNoAuthContext
}

// mint builds and verifies a fresh auth context from one external candidate.
func (r *Resolver) mint(ctx context.Context, candidate threshold.AuthData, publicKey, expectedAddress string, probeDigest [32]byte) (*Resolved, error) {
	session, err := threshold.NewSessionKeyPair()
	if err != nil {
		return nil, err
	}
	delegation, err := r.client.Delegate(ctx, candidate, session.PublicKey,
		[]string{threshold.AbilityExecution}, r.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("delegation failed: %w", err)
	}

	authCtx := &threshold.AuthContext{
		Session:    *session,
		Delegation: *delegation,
		Network:    r.client.Network(),
	}
	if err := r.verify(ctx, authCtx, publicKey, expectedAddress, probeDigest); err != nil {
		return nil, err
	}
	return &Resolved{Context: authCtx, AuthMethodID: candidate.AuthMethodID}, nil
}

// verify probe-signs with the context and checks the delegation signer
// against the expected wallet address.
func (r *Resolver) verify(ctx context.Context, authCtx *threshold.AuthContext, publicKey, expectedAddress string, probeDigest [32]byte) error {
	if _, err := r.client.Sign(ctx, probeDigest, publicKey, authCtx); err != nil {
		return fmt.Errorf("probe signing failed: %w", err)
	}

	signer := strings.TrimSpace(authCtx.Delegation.Address)
	if signer == "" || !strings.EqualFold(signer, strings.TrimSpace(expectedAddress)) {
		return fmt.Errorf("delegation signer address mismatch: expected %s, got %s", expectedAddress, signer)
	}
	return nil
}

// cache persists a freshly minted delegation, best effort.
func (r *Resolver) cache(ctx context.Context, cred *keystore.Credential, authCtx *threshold.AuthContext, fromExternal bool) {
	shouldCache := fromExternal || !cred.HasCachedDelegation()
	if !shouldCache {
		return
	}
	cred.SetCachedDelegation(authCtx)
	if err := r.store.Save(ctx, cred); err != nil {
		r.log.Warn(ctx, "failed to cache delegation material", "error", err)
		return
	}
	r.log.Info(ctx, "cached delegation material for future runs")
}
