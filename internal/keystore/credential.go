// Package keystore persists the wallet credential the client acts with: the
// delegated key's public material, the auth method that controls it, and the
// cached session delegation. The file on disk is encrypted at rest.
package keystore

import (
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// Credential is the persisted wallet state.
type Credential struct {
	Version   int    `json:"version"`
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
	TokenID   string `json:"tokenId,omitempty"`

	// External auth method controlling the delegated key.
	AuthMethodType uint64 `json:"authMethodType,omitempty"`
	AuthMethodID   string `json:"authMethodId,omitempty"`
	AccessToken    string `json:"accessToken,omitempty"`
	EOAAddress     string `json:"eoaAddress,omitempty"`

	// Cached session material, reused until it stops working.
	Session    *threshold.SessionKeyPair `json:"sessionKeyPair,omitempty"`
	Delegation *threshold.DelegationSig  `json:"delegationAuthSig,omitempty"`
}

// CurrentVersion is written to new credential files.
const CurrentVersion = 1

// HasCachedDelegation reports whether both halves of the cached session
// material are present.
func (c *Credential) HasCachedDelegation() bool {
	return c != nil && c.Session != nil && c.Delegation != nil
}

// CachedAuthContext assembles an auth context from the cached session
// material, or nil when the cache is incomplete.
func (c *Credential) CachedAuthContext(network string) *threshold.AuthContext {
	if !c.HasCachedDelegation() {
		return nil
	}
	return &threshold.AuthContext{
		Session:    *c.Session,
		Delegation: *c.Delegation,
		Network:    network,
	}
}

// SetCachedDelegation replaces the cached session material.
func (c *Credential) SetCachedDelegation(auth *threshold.AuthContext) {
	if auth == nil {
		c.Session = nil
		c.Delegation = nil
		return
	}
	session := auth.Session
	delegation := auth.Delegation
	c.Session = &session
	c.Delegation = &delegation
}

// AuthData returns the external auth method material, if any was persisted.
func (c *Credential) AuthData() *threshold.AuthData {
	if c == nil || c.AuthMethodID == "" {
		return nil
	}
	return &threshold.AuthData{
		AuthMethodType: c.AuthMethodType,
		AuthMethodID:   c.AuthMethodID,
		AccessToken:    c.AccessToken,
	}
}
