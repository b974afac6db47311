package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiresAtFrom(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	assert.Equal(t, int64(1_700_000_000_000+3600*1000), ExpiresAtFrom(now, 3600))
	assert.Equal(t, now.UnixMilli(), ExpiresAtFrom(now, 0))
}

func TestTokenSet_IsExpired(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	expiresAt := ExpiresAtFrom(now, 3600)

	tests := []struct {
		name    string
		token   *TokenSet
		at      time.Time
		expired bool
	}{
		{"nil token", nil, now, true},
		{"empty access token", &TokenSet{}, now, true},
		{"no expiry", &TokenSet{AccessToken: "a"}, now.Add(100 * time.Hour), false},
		{"fresh", &TokenSet{AccessToken: "a", ExpiresAt: expiresAt}, now, false},
		{"just before buffer", &TokenSet{AccessToken: "a", ExpiresAt: expiresAt},
			time.UnixMilli(expiresAt - TokenRefreshThreshold.Milliseconds() - 1), false},
		{"at buffer boundary", &TokenSet{AccessToken: "a", ExpiresAt: expiresAt},
			time.UnixMilli(expiresAt - TokenRefreshThreshold.Milliseconds()), true},
		{"past expiry", &TokenSet{AccessToken: "a", ExpiresAt: expiresAt},
			time.UnixMilli(expiresAt + 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.token.IsExpired(tt.at))
		})
	}
}

func TestEndpoints_Merge(t *testing.T) {
	md := &Metadata{
		AuthorizationEndpoint: "https://discovered/authorize",
		TokenEndpoint:         "https://discovered/token",
		RegistrationEndpoint:  "https://discovered/register",
	}

	explicit := Endpoints{TokenURL: "https://explicit/token"}
	merged := explicit.Merge(md)

	assert.Equal(t, "https://discovered/authorize", merged.AuthorizationURL)
	assert.Equal(t, "https://explicit/token", merged.TokenURL)
	assert.Equal(t, "https://discovered/register", merged.RegistrationURL)
	assert.True(t, merged.Complete())

	assert.Equal(t, explicit, explicit.Merge(nil))
	assert.False(t, explicit.Complete())
}

func TestMetadata_SupportsPKCE(t *testing.T) {
	assert.True(t, (&Metadata{}).SupportsPKCE())
	assert.True(t, (&Metadata{CodeChallengeMethodsSupported: []string{"plain", "S256"}}).SupportsPKCE())
	assert.False(t, (&Metadata{CodeChallengeMethodsSupported: []string{"plain"}}).SupportsPKCE())
}

func TestIssuerFromServerURL(t *testing.T) {
	assert.Equal(t, "https://mcp.example.com", IssuerFromServerURL("https://mcp.example.com/mcp"))
	assert.Equal(t, "http://127.0.0.1:8080", IssuerFromServerURL("http://127.0.0.1:8080/v1/sse/"))
	assert.Equal(t, "not-a-url", IssuerFromServerURL("not-a-url/"))
}
