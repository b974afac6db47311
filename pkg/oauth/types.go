package oauth

import (
	"net/url"
	"strings"
	"time"
)

// TokenRefreshThreshold is how long before expiry a token is treated as
// expired and refreshed.
const TokenRefreshThreshold = 5 * time.Minute

// DefaultTokenStorageDir is the token directory relative to the user's home.
const DefaultTokenStorageDir = ".config/switchboard/tokens"

// DefaultRedirectURI is used when a server does not configure one.
const DefaultRedirectURI = "http://localhost:3000/callback"

// TokenSet is the persisted form of an OAuth token for one upstream.
// ExpiresAt is Unix milliseconds; zero means the token carries no expiry.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// ExpiresAtFrom computes the expiry instant for a token issued at now with
// a lifetime of expiresIn seconds.
func ExpiresAtFrom(now time.Time, expiresIn int64) int64 {
	return now.UnixMilli() + expiresIn*1000
}

// IsExpired reports whether the token is expired, or within
// TokenRefreshThreshold of expiring, at now.
func (t *TokenSet) IsExpired(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= t.ExpiresAt-TokenRefreshThreshold.Milliseconds()
}

// ClientRegistration is an OAuth client identity, either configured or
// obtained through dynamic client registration.
type ClientRegistration struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// Metadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414).
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the server supports S256 PKCE.
// Servers that do not advertise methods are assumed to support it.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return len(m.CodeChallengeMethodsSupported) == 0
}

// Endpoints are the three URLs an authorization flow needs.
type Endpoints struct {
	AuthorizationURL string
	TokenURL         string
	RegistrationURL  string
}

// Merge fills empty fields of e from discovered metadata. Values already
// set on e win.
func (e Endpoints) Merge(m *Metadata) Endpoints {
	if m == nil {
		return e
	}
	if e.AuthorizationURL == "" {
		e.AuthorizationURL = m.AuthorizationEndpoint
	}
	if e.TokenURL == "" {
		e.TokenURL = m.TokenEndpoint
	}
	if e.RegistrationURL == "" {
		e.RegistrationURL = m.RegistrationEndpoint
	}
	return e
}

// Complete reports whether both the authorization and token endpoints are known.
func (e Endpoints) Complete() bool {
	return e.AuthorizationURL != "" && e.TokenURL != ""
}

// PKCEChallenge is the ephemeral secret material of one authorization attempt.
// It is never persisted.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
}

// IssuerFromServerURL returns the origin (scheme://host[:port]) of an
// upstream URL, which is where its authorization server metadata is looked up.
func IssuerFromServerURL(serverURL string) string {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSuffix(serverURL, "/")
	}
	return u.Scheme + "://" + u.Host
}
