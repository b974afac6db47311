package oauth

import (
	"fmt"
	"regexp"
	"strings"
)

// AuthChallenge holds the parsed parameters of a WWW-Authenticate header.
type AuthChallenge struct {
	Scheme              string
	Realm               string
	Issuer              string
	ResourceMetadataURL string
	Scope               string
	Error               string
}

// IsOAuthChallenge returns true if this represents an OAuth bearer challenge.
func (c *AuthChallenge) IsOAuthChallenge() bool {
	if c == nil || !strings.EqualFold(c.Scheme, "Bearer") {
		return false
	}
	return c.Realm != "" || c.ResourceMetadataURL != "" || c.Issuer != ""
}

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value such as
//
//	Bearer realm="https://auth.example.com", scope="openid profile"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &AuthChallenge{Scheme: parts[0]}
	if len(parts) == 1 {
		return challenge, nil
	}

	for _, match := range authParamRegex.FindAllStringSubmatch(parts[1], -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			challenge.Realm = value
			if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
				challenge.Issuer = value
			}
		case "resource_metadata":
			challenge.ResourceMetadataURL = value
		case "scope":
			challenge.Scope = value
		case "error":
			challenge.Error = value
		}
	}

	return challenge, nil
}

// ParseWWWAuthenticateFromError extracts a challenge from an error message
// produced by a transport that does not expose the HTTP response. It returns
// nil unless the error looks like a 401.
func ParseWWWAuthenticateFromError(err error) *AuthChallenge {
	if !Is401Error(err) {
		return nil
	}

	errStr := err.Error()
	if idx := strings.Index(errStr, "Bearer"); idx >= 0 {
		remaining := errStr[idx:]
		if endIdx := strings.IndexAny(remaining, "\n\r"); endIdx > 0 {
			remaining = remaining[:endIdx]
		}
		if challenge, parseErr := ParseWWWAuthenticate(remaining); parseErr == nil {
			return challenge
		}
	}

	return &AuthChallenge{Scheme: "Bearer"}
}

// Is401Error checks if an error message indicates a 401 Unauthorized response.
func Is401Error(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "401") ||
		strings.Contains(strings.ToLower(errStr), "unauthorized")
}
