package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMetadataCacheTTL is the default TTL for cached OAuth metadata.
	DefaultMetadataCacheTTL = 30 * time.Minute

	// DefaultClientName is sent as client_name during dynamic registration.
	DefaultClientName = "switchboard"
)

// metadataCacheEntry holds cached OAuth metadata with its timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client handles the wire side of OAuth: metadata discovery, dynamic client
// registration, code exchange and refresh. It holds no tokens.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	clientName string

	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry
	metadataTTL   time.Duration

	// deduplicates concurrent metadata fetches for the same issuer
	metadataGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetadataCacheTTL sets the metadata cache TTL.
func WithMetadataCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.metadataTTL = ttl
	}
}

// WithClientName sets the client_name used for dynamic registration.
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.clientName = name
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        slog.Default(),
		clientName:    DefaultClientName,
		metadataCache: make(map[string]*metadataCacheEntry),
		metadataTTL:   DefaultMetadataCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DiscoverMetadata fetches OAuth metadata from the issuer's well-known endpoint.
// It tries RFC 8414 (/.well-known/oauth-authorization-server) first,
// then falls back to OpenID Connect (/.well-known/openid-configuration).
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if md := c.cachedMetadata(issuer); md != nil {
		return md, nil
	}

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		if md := c.cachedMetadata(issuer); md != nil {
			return md, nil
		}
		return c.doDiscoverMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

func (c *Client) cachedMetadata(issuer string) *Metadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()
	if entry, ok := c.metadataCache[issuer]; ok && time.Since(entry.fetchedAt) < c.metadataTTL {
		return entry.metadata
	}
	return nil
}

func (c *Client) doDiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnownURL := issuer + "/.well-known/oauth-authorization-server"
	metadata, err := c.fetchMetadata(ctx, wellKnownURL)
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	c.logger.Debug("RFC 8414 metadata fetch failed, trying OIDC",
		"issuer", issuer,
		"error", err)

	wellKnownURL = issuer + "/.well-known/openid-configuration"
	metadata, err = c.fetchMetadata(ctx, wellKnownURL)
	if err == nil {
		c.cacheMetadata(issuer, metadata)
		return metadata, nil
	}

	return nil, fmt.Errorf("failed to discover OAuth metadata for %s: %w", issuer, err)
}

func (c *Client) fetchMetadata(ctx context.Context, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var metadata Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &metadata, nil
}

func (c *Client) cacheMetadata(issuer string, metadata *Metadata) {
	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"issuer", issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint)
}

// registrationRequest is the RFC 7591 client metadata sent on registration.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient performs RFC 7591 dynamic client registration as a public
// client with the authorization_code and refresh_token grants and exactly one
// redirect URI.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint, redirectURI string, scopes []string) (*ClientRegistration, error) {
	body, err := json.Marshal(registrationRequest{
		ClientName:              c.clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration request failed with status %d", resp.StatusCode)
	}

	var out registrationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if out.ClientID == "" {
		return nil, errors.New("registration response did not include a client_id")
	}

	return &ClientRegistration{ClientID: out.ClientID, ClientSecret: out.ClientSecret}, nil
}

// Config returns the x/oauth2 configuration for a client against the given
// endpoints. A client secret switches the token endpoint to HTTP Basic auth.
func Config(endpoints Endpoints, reg ClientRegistration, redirectURI string, scopes []string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if reg.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthorizationURL,
			TokenURL:  endpoints.TokenURL,
			AuthStyle: style,
		},
	}
}

// BuildAuthorizationURL constructs the authorization URL for a PKCE attempt.
func BuildAuthorizationURL(conf *oauth2.Config, pkce *PKCEChallenge) string {
	return conf.AuthCodeURL(pkce.State,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
	)
}

// ExchangeCode exchanges an authorization code for a token set. now is the
// issue instant used to compute ExpiresAt.
func (c *Client) ExchangeCode(ctx context.Context, conf *oauth2.Config, code, verifier string, now time.Time) (*TokenSet, error) {
	tok, err := conf.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, describeTokenError("token exchange", err)
	}
	return TokenSetFromOAuth2(tok, now), nil
}

// Refresh performs a refresh_token grant. Any non-2xx response is returned
// as an error.
func (c *Client) Refresh(ctx context.Context, conf *oauth2.Config, refreshToken string, now time.Time) (*TokenSet, error) {
	src := conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, describeTokenError("token refresh", err)
	}
	ts := TokenSetFromOAuth2(tok, now)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// describeTokenError strips response bodies, which may echo credentials, from
// token endpoint errors.
func describeTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.ErrorCode != "" {
			return fmt.Errorf("%s failed with status %d: %s", op, re.Response.StatusCode, re.ErrorCode)
		}
		return fmt.Errorf("%s failed with status %d", op, re.Response.StatusCode)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// TokenSetFromOAuth2 converts an x/oauth2 token into the persisted form.
// expires_in from the raw response takes precedence over the library's
// own Expiry so that ExpiresAt is exactly now + expires_in*1000.
func TokenSetFromOAuth2(tok *oauth2.Token, now time.Time) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if n, ok := expiresIn(tok.Extra("expires_in")); ok {
		ts.ExpiresAt = ExpiresAtFrom(now, n)
	} else if tok.ExpiresIn > 0 {
		ts.ExpiresAt = ExpiresAtFrom(now, tok.ExpiresIn)
	} else if !tok.Expiry.IsZero() {
		ts.ExpiresAt = tok.Expiry.UnixMilli()
	}
	return ts
}

func expiresIn(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	default:
		return 0, false
	}
}

// ClearMetadataCache clears the metadata cache.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

// ValidateRedirectURI checks that a redirect URI points at a loopback host
// with an explicit port, which is what the callback listener can bind.
func ValidateRedirectURI(redirectURI string) (*url.URL, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI %q must use http", redirectURI)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return nil, fmt.Errorf("redirect URI %q must point at a loopback host", redirectURI)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("redirect URI %q must include a port", redirectURI)
	}
	return u, nil
}
