package oauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/metrics"
	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"

	"golang.org/x/sync/singleflight"
)

// SecretExpander expands ${env:..}/${vault:..} placeholders in configured
// client credentials.
type SecretExpander interface {
	Expand(ctx context.Context, template string) string
}

// Status describes what the manager holds for a server.
type Status string

const (
	StatusNone    Status = "none"
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
)

// Options configure a Manager. Only Store is required.
type Options struct {
	Store           *TokenStore
	Client          *pkgoauth.Client
	Secrets         SecretExpander
	OpenBrowser     BrowserOpener
	Clock           func() time.Time
	CallbackTimeout time.Duration
	Metrics         metrics.Metrics
}

// Manager obtains access tokens for upstream servers. For each server id at
// most one token operation (refresh or full authorization) runs at a time;
// concurrent callers wait for it.
type Manager struct {
	store           *TokenStore
	client          *pkgoauth.Client
	secrets         SecretExpander
	openBrowser     BrowserOpener
	now             func() time.Time
	callbackTimeout time.Duration
	metrics         metrics.Metrics

	group singleflight.Group

	locksMu sync.Mutex
	// serializes token operations per server across singleflight keys
	locks map[string]*sync.Mutex

	hintsMu sync.RWMutex
	// issuer hints learned from WWW-Authenticate challenges
	issuerHints map[string]string
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Client == nil {
		opts.Client = pkgoauth.NewClient()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = OpenBrowser
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = DefaultCallbackTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	return &Manager{
		store:           opts.Store,
		client:          opts.Client,
		secrets:         opts.Secrets,
		openBrowser:     opts.OpenBrowser,
		now:             opts.Clock,
		callbackTimeout: opts.CallbackTimeout,
		metrics:         opts.Metrics,
		locks:           make(map[string]*sync.Mutex),
		issuerHints:     make(map[string]string),
	}
}

// GetToken returns a usable access token for serverID: the cached or
// persisted one while it is more than five minutes from expiry, else a
// refreshed one, else one from a full authorization flow.
func (m *Manager) GetToken(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec) (RedactedToken, error) {
	if ts := m.store.LoadToken(serverID); ts != nil && !ts.IsExpired(m.now()) {
		return NewRedactedToken(ts.AccessToken), nil
	}

	ch := m.group.DoChan(serverID, func() (interface{}, error) {
		return m.obtain(context.WithoutCancel(ctx), serverID, serverURL, spec, false)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return RedactedToken{}, res.Err
		}
		return NewRedactedToken(res.Val.(string)), nil
	case <-ctx.Done():
		return RedactedToken{}, ctx.Err()
	}
}

// Authorize runs a full authorization flow even when a valid token exists.
func (m *Manager) Authorize(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec) error {
	// A forced flow never joins a pending GetToken, which could be
	// satisfied by a refresh.
	ch := m.group.DoChan(serverID+"#force", func() (interface{}, error) {
		return m.obtain(context.WithoutCancel(ctx), serverID, serverURL, spec, true)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) obtain(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec, force bool) (string, error) {
	if spec == nil {
		spec = &config.OAuthSpec{}
	}

	lock := m.serverLock(serverID)
	lock.Lock()
	defer lock.Unlock()

	ts := m.store.LoadToken(serverID)
	if !force {
		// Another caller may have finished a flow while we queued.
		if ts != nil && !ts.IsExpired(m.now()) {
			return ts.AccessToken, nil
		}

		if ts != nil && ts.RefreshToken != "" {
			fresh, err := m.refresh(ctx, serverID, serverURL, spec, ts.RefreshToken)
			m.metrics.ObserveOAuthFlow("refresh", err)
			if err == nil {
				return fresh.AccessToken, nil
			}
			logging.Warn("OAuth", "Token refresh for %s failed, starting a new authorization: %v", serverID, err)
			if delErr := m.store.DeleteToken(serverID); delErr != nil {
				logging.Warn("OAuth", "Failed to drop stale token for %s: %v", serverID, delErr)
			}
		}
	}

	fresh, err := m.performAuthorizationFlow(ctx, serverID, serverURL, spec)
	m.metrics.ObserveOAuthFlow("authorize", err)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

func (m *Manager) serverLock(serverID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[serverID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[serverID] = lock
	}
	return lock
}

// refresh exchanges refreshToken for a new token set and persists it.
func (m *Manager) refresh(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec, refreshToken string) (*pkgoauth.TokenSet, error) {
	eps, err := m.endpoints(ctx, serverID, serverURL, spec)
	if err != nil {
		return nil, err
	}
	reg := m.configuredRegistration(ctx, spec)
	if reg == nil {
		reg = m.store.LoadRegistration(serverID)
	}
	if reg == nil {
		return nil, flowError(serverID, StageRefresh, ErrNoClientRegistration)
	}

	conf := pkgoauth.Config(eps, *reg, "", spec.Scopes)
	ts, err := m.client.Refresh(ctx, conf, refreshToken, m.now())
	if err != nil {
		return nil, flowError(serverID, StageRefresh, err)
	}
	if err := m.store.SaveToken(serverID, ts); err != nil {
		return nil, flowError(serverID, StageStorage, err)
	}
	logging.Info("OAuth", "Refreshed token for %s", serverID)
	return ts, nil
}

func (m *Manager) performAuthorizationFlow(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec) (*pkgoauth.TokenSet, error) {
	eps, err := m.endpoints(ctx, serverID, serverURL, spec)
	if err != nil {
		return nil, err
	}

	pkce, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return nil, flowError(serverID, StageAuthorize, err)
	}

	redirectURI := spec.RedirectURI
	if redirectURI == "" {
		redirectURI = pkgoauth.DefaultRedirectURI
	}
	cb, err := NewCallbackServer(serverID, redirectURI, pkce.State, m.callbackTimeout)
	if err != nil {
		return nil, flowError(serverID, StageAuthorize, err)
	}
	redirectURI, err = cb.Start()
	if err != nil {
		return nil, flowError(serverID, StageAuthorize, err)
	}
	defer cb.Stop()

	reg, err := m.registration(ctx, serverID, eps, redirectURI, spec)
	if err != nil {
		return nil, err
	}

	conf := pkgoauth.Config(eps, *reg, redirectURI, spec.Scopes)
	authURL := pkgoauth.BuildAuthorizationURL(conf, pkce)

	logging.Info("OAuth", "Authorization required for %s; open this URL if no browser appears: %s", serverID, authURL)
	if err := m.openBrowser(authURL); err != nil {
		logging.Warn("OAuth", "Could not open a browser for %s: %v", serverID, err)
	}

	res, err := cb.Wait(ctx)
	if err != nil {
		return nil, flowError(serverID, StageAuthorize, err)
	}
	if err := res.Err(); err != nil {
		logging.Warn("OAuth", "Authorization for %s ended with %s", serverID, res.Outcome)
		return nil, flowError(serverID, StageAuthorize, err)
	}

	ts, err := m.client.ExchangeCode(ctx, conf, res.Code, pkce.CodeVerifier, m.now())
	if err != nil {
		return nil, flowError(serverID, StageExchange, err)
	}
	if err := m.store.SaveToken(serverID, ts); err != nil {
		return nil, flowError(serverID, StageStorage, err)
	}

	logging.Info("OAuth", "Authorized %s", serverID)
	return ts, nil
}

// endpoints merges configured endpoints with discovered metadata; configured
// values win. Discovery failure only matters when it leaves a gap.
func (m *Manager) endpoints(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec) (pkgoauth.Endpoints, error) {
	eps := pkgoauth.Endpoints{
		AuthorizationURL: spec.AuthorizationURL,
		TokenURL:         spec.TokenURL,
		RegistrationURL:  spec.RegistrationURL,
	}

	issuer := m.issuerHint(serverID)
	if issuer == "" && serverURL != "" {
		issuer = pkgoauth.IssuerFromServerURL(serverURL)
	}

	var discoveryErr error
	if issuer != "" {
		md, err := m.client.DiscoverMetadata(ctx, issuer)
		if err != nil {
			discoveryErr = err
			logging.Debug("OAuth", "Metadata discovery for %s failed: %v", serverID, err)
		} else {
			if !md.SupportsPKCE() {
				logging.Warn("OAuth", "Authorization server for %s does not advertise S256 PKCE", serverID)
			}
			eps = eps.Merge(md)
		}
	}

	if !eps.Complete() {
		if discoveryErr != nil {
			return eps, flowError(serverID, StageDiscovery, errors.Join(ErrNoEndpoints, discoveryErr))
		}
		return eps, flowError(serverID, StageDiscovery, ErrNoEndpoints)
	}
	return eps, nil
}

func (m *Manager) configuredRegistration(ctx context.Context, spec *config.OAuthSpec) *pkgoauth.ClientRegistration {
	clientID := m.expand(ctx, spec.ClientID)
	if clientID == "" {
		return nil
	}
	return &pkgoauth.ClientRegistration{
		ClientID:     clientID,
		ClientSecret: m.expand(ctx, spec.ClientSecret),
	}
}

// registration returns the configured client, else the persisted one, else
// registers dynamically and persists the result.
func (m *Manager) registration(ctx context.Context, serverID string, eps pkgoauth.Endpoints, redirectURI string, spec *config.OAuthSpec) (*pkgoauth.ClientRegistration, error) {
	if reg := m.configuredRegistration(ctx, spec); reg != nil {
		return reg, nil
	}
	if reg := m.store.LoadRegistration(serverID); reg != nil {
		return reg, nil
	}
	if eps.RegistrationURL == "" {
		return nil, flowError(serverID, StageRegistration, ErrNoClientRegistration)
	}

	reg, err := m.client.RegisterClient(ctx, eps.RegistrationURL, redirectURI, spec.Scopes)
	m.metrics.ObserveOAuthFlow("register", err)
	if err != nil {
		return nil, flowError(serverID, StageRegistration, err)
	}
	if err := m.store.SaveRegistration(serverID, reg); err != nil {
		logging.Warn("OAuth", "Registered client for %s but could not persist it: %v", serverID, err)
	}
	logging.Info("OAuth", "Registered OAuth client for %s", serverID)
	return reg, nil
}

func (m *Manager) expand(ctx context.Context, s string) string {
	if m.secrets == nil || !strings.Contains(s, "${") {
		return s
	}
	return m.secrets.Expand(ctx, s)
}

// Invalidate drops the cached token for serverID after the upstream rejected
// it. A bearer challenge naming an issuer is remembered for discovery.
func (m *Manager) Invalidate(serverID string, challenge *pkgoauth.AuthChallenge) {
	if challenge != nil && challenge.IsOAuthChallenge() && challenge.Issuer != "" {
		m.hintsMu.Lock()
		m.issuerHints[serverID] = challenge.Issuer
		m.hintsMu.Unlock()
	}
	if ts := m.store.LoadToken(serverID); ts != nil {
		// Keep the refresh token so the next call can try it first.
		expired := *ts
		expired.ExpiresAt = 1
		if err := m.store.SaveToken(serverID, &expired); err != nil {
			logging.Warn("OAuth", "Failed to invalidate token for %s: %v", serverID, err)
		}
	}
}

func (m *Manager) issuerHint(serverID string) string {
	m.hintsMu.RLock()
	defer m.hintsMu.RUnlock()
	return m.issuerHints[serverID]
}

// Logout deletes the stored token for serverID. The client registration is kept.
func (m *Manager) Logout(serverID string) error {
	return m.store.DeleteToken(serverID)
}

// Status reports whether a usable token is stored for serverID.
func (m *Manager) Status(serverID string) Status {
	ts := m.store.LoadToken(serverID)
	switch {
	case ts == nil:
		return StatusNone
	case ts.IsExpired(m.now()):
		return StatusExpired
	default:
		return StatusValid
	}
}
