package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotheaven/heaven-core/internal/keystore"
)

func TestCanonicalEOAAuthMethodID(t *testing.T) {
	lower := canonicalEOAAuthMethodID("0x52908400098527886e0f7030069857d2e4169ee7")
	upper := canonicalEOAAuthMethodID("0x52908400098527886E0F7030069857D2E4169EE7")
	require.NotEmpty(t, lower)
	assert.Equal(t, lower, upper, "derivation checksums the address first")
	assert.Len(t, lower, 2+64)

	assert.Empty(t, canonicalEOAAuthMethodID("not-an-address"))
}

func TestExtractEOAAddress(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"

	assert.Equal(t, addr, extractEOAAddress(`{"address":"`+addr+`"}`))
	assert.Equal(t, addr, extractEOAAddress(`"`+addr+`"`))
	assert.Equal(t, addr, extractEOAAddress(`"{\"address\":\"`+addr+`\"}"`))
	assert.Empty(t, extractEOAAddress(`{"address":"garbage"}`))
	assert.Empty(t, extractEOAAddress(`42`))
	assert.Empty(t, extractEOAAddress(`not json at all`))
}

func TestExtractEOAAddress_JWT(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"address": addr})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)

	assert.Equal(t, addr, extractEOAAddress(signed))
}

func TestCandidateAuthData(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	cred := &keystore.Credential{
		AuthMethodType: authMethodTypeEOA,
		AuthMethodID:   "0xpersisted",
		AccessToken:    `{"address":"` + addr + `"}`,
	}

	cands := candidateAuthData(cred)
	require.Len(t, cands, 2)
	assert.Equal(t, canonicalEOAAuthMethodID(addr), cands[0].AuthMethodID)
	assert.Equal(t, "0xpersisted", cands[1].AuthMethodID)
	assert.Equal(t, cred.AccessToken, cands[0].AccessToken)
}

func TestCandidateAuthData_PersistedIsCanonical(t *testing.T) {
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	canonical := canonicalEOAAuthMethodID(addr)
	cred := &keystore.Credential{
		AuthMethodType: authMethodTypeEOA,
		AuthMethodID:   canonical,
		AccessToken:    `{"address":"` + addr + `"}`,
	}

	cands := candidateAuthData(cred)
	require.Len(t, cands, 1, "case-insensitive dedupe collapses the canonical id")
	assert.Equal(t, canonical, cands[0].AuthMethodID)
}

func TestCandidateAuthData_EOAAddressHintWins(t *testing.T) {
	hint := "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
	cred := &keystore.Credential{
		AuthMethodType: authMethodTypeEOA,
		AuthMethodID:   "0xpersisted",
		AccessToken:    `{"address":"0x52908400098527886E0F7030069857D2E4169EE7"}`,
		EOAAddress:     hint,
	}

	cands := candidateAuthData(cred)
	require.Len(t, cands, 2)
	assert.Equal(t, canonicalEOAAuthMethodID(hint), cands[0].AuthMethodID)
}

func TestCandidateAuthData_NonEOA(t *testing.T) {
	cred := &keystore.Credential{
		AuthMethodType: 3,
		AuthMethodID:   "0xwebauthn",
		AccessToken:    `{"not":"json-with-address"}`,
	}

	cands := candidateAuthData(cred)
	require.Len(t, cands, 1, "no canonical derivation outside EOA auth")
	assert.Equal(t, "0xwebauthn", cands[0].AuthMethodID)
}

func TestCandidateAuthData_NoToken(t *testing.T) {
	cred := &keystore.Credential{AuthMethodType: authMethodTypeEOA, AuthMethodID: "0xid"}
	assert.Nil(t, candidateAuthData(cred))
}

func TestDedupeCaseInsensitive(t *testing.T) {
	got := dedupeCaseInsensitive([]string{"0xAB", "0xab", "0xCD"})
	assert.Equal(t, []string{"0xAB", "0xCD"}, got)
}
