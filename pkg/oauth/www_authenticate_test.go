package oauth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected AuthChallenge
		isOAuth  bool
	}{
		{
			name:     "realm url becomes issuer",
			header:   `Bearer realm="https://auth.example.com"`,
			expected: AuthChallenge{Scheme: "Bearer", Realm: "https://auth.example.com", Issuer: "https://auth.example.com"},
			isOAuth:  true,
		},
		{
			name:   "resource metadata and scope",
			header: `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource", scope="read write"`,
			expected: AuthChallenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource",
				Scope:               "read write",
			},
			isOAuth: true,
		},
		{
			name:     "error code",
			header:   `Bearer realm="api", error="invalid_token"`,
			expected: AuthChallenge{Scheme: "Bearer", Realm: "api", Error: "invalid_token"},
			isOAuth:  true,
		},
		{
			name:     "basic scheme is not oauth",
			header:   `Basic realm="x"`,
			expected: AuthChallenge{Scheme: "Basic", Realm: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *got)
			assert.Equal(t, tt.isOAuth, got.IsOAuthChallenge())
		})
	}

	_, err := ParseWWWAuthenticate("  ")
	assert.Error(t, err)
}

func TestParseWWWAuthenticateFromError(t *testing.T) {
	assert.Nil(t, ParseWWWAuthenticateFromError(nil))
	assert.Nil(t, ParseWWWAuthenticateFromError(errors.New("connection refused")))

	c := ParseWWWAuthenticateFromError(errors.New("request failed: 401 Unauthorized\nBearer realm=\"https://idp.example.com\""))
	require.NotNil(t, c)
	assert.Equal(t, "https://idp.example.com", c.Issuer)

	c = ParseWWWAuthenticateFromError(errors.New("unauthorized"))
	require.NotNil(t, c)
	assert.Equal(t, "Bearer", c.Scheme)
	assert.False(t, c.IsOAuthChallenge())
}

func TestIs401Error(t *testing.T) {
	assert.False(t, Is401Error(nil))
	assert.True(t, Is401Error(errors.New("status 401")))
	assert.True(t, Is401Error(errors.New("Unauthorized")))
	assert.False(t, Is401Error(errors.New("status 500")))
}
