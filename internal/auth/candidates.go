package auth

import (
	"encoding/json"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/keystore"
	"github.com/dotheaven/heaven-core/internal/threshold"
)

// authMethodTypeEOA is the auth method type for wallet-signature auth.
const authMethodTypeEOA = 1

// candidateAuthData builds the ordered external auth candidates for a
// credential. For EOA auth the canonical keccak256("<checksumAddress>:lit")
// identifier is derived first so credentials written with raw-address ids
// keep working; the persisted id follows as a fallback. Duplicates are
// removed case-insensitively.
func candidateAuthData(cred *keystore.Credential) []threshold.AuthData {
	base := cred.AuthData()
	if base == nil || base.AccessToken == "" {
		return nil
	}

	ids := []string{}
	if base.AuthMethodType == authMethodTypeEOA {
		eoaSource := strings.TrimSpace(cred.EOAAddress)
		if eoaSource == "" {
			eoaSource = extractEOAAddress(base.AccessToken)
		}
		if eoaSource != "" {
			if canonical := canonicalEOAAuthMethodID(eoaSource); canonical != "" &&
				!strings.EqualFold(canonical, base.AuthMethodID) {
				ids = append(ids, canonical)
			}
		}
	}
	ids = append(ids, base.AuthMethodID)
	ids = dedupeCaseInsensitive(ids)

	out := make([]threshold.AuthData, 0, len(ids))
	for _, id := range ids {
		out = append(out, threshold.AuthData{
			AuthMethodType: base.AuthMethodType,
			AuthMethodID:   id,
			AccessToken:    base.AccessToken,
		})
	}
	return out
}

// canonicalEOAAuthMethodID derives keccak256("<checksumAddress>:lit") for a
// wallet address, or empty when the address does not parse.
func canonicalEOAAuthMethodID(address string) string {
	if !isEVMAddress(address) {
		return ""
	}
	checksummed := ethcommon.HexToAddress(address).Hex()
	return common.HexPrefixed(crypto.Keccak256([]byte(checksummed + ":lit")))
}

// extractEOAAddress digs a wallet address out of an access token. Tokens come
// in three shapes: a JSON object with an "address" field, a JSON string
// holding either a bare address or nested JSON, or a provider JWT with an
// "address" claim.
func extractEOAAddress(accessToken string) string {
	var parsed any
	if err := json.Unmarshal([]byte(accessToken), &parsed); err == nil {
		switch v := parsed.(type) {
		case map[string]any:
			return addressField(v)
		case string:
			if isEVMAddress(v) {
				return v
			}
			var inner map[string]any
			if err := json.Unmarshal([]byte(v), &inner); err == nil {
				return addressField(inner)
			}
		}
		return ""
	}

	// not JSON: try a provider JWT
	if strings.Count(accessToken, ".") == 2 {
		token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
		if err != nil {
			return ""
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			return addressField(claims)
		}
	}
	return ""
}

func addressField(m map[string]any) string {
	v, ok := m["address"].(string)
	if !ok {
		return ""
	}
	v = strings.TrimSpace(v)
	if !isEVMAddress(v) {
		return ""
	}
	return v
}

func isEVMAddress(value string) bool {
	return ethcommon.IsHexAddress(strings.TrimSpace(value)) &&
		strings.HasPrefix(strings.TrimSpace(value), "0x")
}

func dedupeCaseInsensitive(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
