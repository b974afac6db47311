package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes behind a code verifier.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes behind the state parameter.
	// 32 bytes encode to 43 base64url characters.
	stateBytes = 32
)

// GeneratePKCE generates a new verifier, its S256 challenge and an
// independent state nonce for one authorization attempt.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := randomToken(pkceVerifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
		State:               state,
	}, nil
}

// ChallengeFromVerifier returns base64url(SHA-256(verifier)) without padding.
func ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState generates a random state parameter used to bind the
// authorization response to the request that started it.
func GenerateState() (string, error) {
	state, err := randomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
