package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(pkce.CodeVerifier), 43)
	assert.Equal(t, "S256", pkce.CodeChallengeMethod)

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(hash[:]), pkce.CodeChallenge)

	// Must agree with the x/oauth2 implementation used on the exchange side.
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(pkce.CodeVerifier), pkce.CodeChallenge)

	assert.NotEmpty(t, pkce.State)
	assert.NotEqual(t, pkce.CodeVerifier, pkce.State)
}

func TestChallengeFromVerifier_Deterministic(t *testing.T) {
	verifiers := []string{
		"dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk",
		"a",
		"0123456789012345678901234567890123456789012",
	}
	for _, v := range verifiers {
		first := ChallengeFromVerifier(v)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, ChallengeFromVerifier(v))
		}
	}

	// RFC 7636 appendix B test vector.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ChallengeFromVerifier("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestGeneratePKCE_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pkce, err := GeneratePKCE()
		require.NoError(t, err)
		assert.False(t, seen[pkce.CodeVerifier], "duplicate verifier on iteration %d", i)
		seen[pkce.CodeVerifier] = true
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	require.NoError(t, err)
	b, err := GenerateState()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
