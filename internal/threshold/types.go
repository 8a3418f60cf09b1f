// Package threshold is the client for the threshold signing network: running
// authorization programs, producing ECDSA signatures with delegated keys, and
// minting the session material both require.
package threshold

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// AbilityExecution is the session ability required to run authorization
// programs on the network.
const AbilityExecution = "lit-action-execution"

// SessionKeyPair is the ed25519 key pair a session authenticates with.
type SessionKeyPair struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// DelegationSig is the wallet-signed statement that delegates signing
// authority to a session key.
type DelegationSig struct {
	Sig           string   `json:"sig"`
	DerivedVia    string   `json:"derivedVia"`
	SignedMessage string   `json:"signedMessage"`
	Address       string   `json:"address"`
	Algo          string   `json:"algo,omitempty"`
	Abilities     []string `json:"abilities,omitempty"`
	Expiration    string   `json:"expiration,omitempty"`
}

// AuthContext is everything a request to the network needs: the session key
// pair, the delegation covering it, and the network it was minted for.
type AuthContext struct {
	Session    SessionKeyPair
	Delegation DelegationSig
	Network    string
}

// Expired reports whether the delegation expiration has passed. A delegation
// without an expiration never expires client-side.
func (c *AuthContext) Expired(now time.Time) bool {
	if c == nil || c.Delegation.Expiration == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, c.Delegation.Expiration)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// HasAbility reports whether the delegation lists the given ability. An
// empty ability list is treated as unrestricted: older delegations did not
// record abilities at all.
func (c *AuthContext) HasAbility(name string) bool {
	if c == nil {
		return false
	}
	if len(c.Delegation.Abilities) == 0 {
		return true
	}
	for _, a := range c.Delegation.Abilities {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// AuthData identifies one way a wallet can authenticate to the network.
type AuthData struct {
	AuthMethodType uint64 `json:"authMethodType"`
	AuthMethodID   string `json:"authMethodId"`
	AccessToken    string `json:"accessToken,omitempty"`
}

// Signature is an assembled threshold ECDSA signature.
type Signature struct {
	R     string `json:"r"`
	S     string `json:"s"`
	RecID int    `json:"recid"`
}

// Bytes renders the signature in Ethereum r||s||v form. Recovery ids below
// 27 are shifted into the legacy v range.
func (s *Signature) Bytes() ([]byte, error) {
	r, err := wordBytes(s.R, "r")
	if err != nil {
		return nil, err
	}
	sv, err := wordBytes(s.S, "s")
	if err != nil {
		return nil, err
	}
	v := s.RecID
	if v < 27 {
		v += 27
	}
	if v > 0xff {
		return nil, fmt.Errorf("invalid recovery id: %d", s.RecID)
	}
	out := make([]byte, 0, 65)
	out = append(out, r...)
	out = append(out, sv...)
	out = append(out, byte(v))
	return out, nil
}

func wordBytes(value, label string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if raw == "" || len(raw) > 64 {
		return nil, fmt.Errorf("invalid signature %s component: %q", label, value)
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s hex: %w", label, err)
	}
	word := make([]byte, 32)
	copy(word[32-len(decoded):], decoded)
	return word, nil
}

// ExecuteResult is the outcome of running an authorization program.
type ExecuteResult struct {
	Success    bool
	Response   []byte
	Logs       string
	Signatures map[string]Signature
}

// Decode unmarshals the program response into v. Programs sometimes return
// their JSON double-encoded as a string; both layers are handled here.
func (r *ExecuteResult) Decode(v any) error {
	raw := r.Response
	if len(raw) == 0 {
		return fmt.Errorf("empty program response")
	}
	var s string
	if err := sonic.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to parse program response: %w", err)
	}
	return nil
}
