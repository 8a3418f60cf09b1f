package threshold

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dotheaven/heaven-core/internal/common"
)

// NewSessionKeyPair generates a fresh ed25519 session key pair.
func NewSessionKeyPair() (*SessionKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return &SessionKeyPair{
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(priv),
	}, nil
}

// NewAuthContextFromWallet mints an auth context by signing the delegation
// message locally with an EOA private key. Sponsor wallets use this path:
// they hold a plain key and never go through external auth methods.
func NewAuthContextFromWallet(privateKeyHex, statement, domain string, ttl time.Duration, network string, abilities []string) (*AuthContext, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	session, err := NewSessionKeyPair()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiration := now.Add(ttl).Format(time.RFC3339)
	msg := delegationMessage(domain, address.Hex(), statement, session.PublicKey, abilities, now, expiration)

	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign delegation message: %w", err)
	}
	sig[64] += 27

	return &AuthContext{
		Session: *session,
		Delegation: DelegationSig{
			Sig:           common.HexPrefixed(sig),
			DerivedVia:    "web3.eth.personal.sign",
			SignedMessage: msg,
			Address:       address.Hex(),
			Abilities:     abilities,
			Expiration:    expiration,
		},
		Network: network,
	}, nil
}

func delegationMessage(domain, address, statement, sessionPub string, abilities []string, issuedAt time.Time, expiration string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n%s\n\n", domain, address)
	if statement != "" {
		fmt.Fprintf(&b, "%s\n\n", statement)
	}
	fmt.Fprintf(&b, "URI: session:%s\n", sessionPub)
	fmt.Fprintf(&b, "Version: 1\n")
	fmt.Fprintf(&b, "Nonce: %s\n", common.RandHexString(16))
	fmt.Fprintf(&b, "Issued At: %s\n", issuedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", expiration)
	if len(abilities) > 0 {
		fmt.Fprintf(&b, "\nAbilities: %s", strings.Join(abilities, ","))
	}
	return b.String()
}
