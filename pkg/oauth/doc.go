// Package oauth holds the OAuth 2.1 protocol pieces switchboard needs as a
// client of upstream authorization servers: PKCE generation (RFC 7636),
// metadata discovery (RFC 8414 with OIDC fallback), dynamic client
// registration (RFC 7591), code exchange and refresh on golang.org/x/oauth2,
// and WWW-Authenticate parsing.
//
// It keeps no per-server state beyond the discovery cache. Token storage,
// the callback listener and flow orchestration live in internal/oauth.
//
//	c := oauth.NewClient()
//	md, err := c.DiscoverMetadata(ctx, oauth.IssuerFromServerURL(serverURL))
//	eps := oauth.Endpoints{TokenURL: configured}.Merge(md)
//	conf := oauth.Config(eps, reg, redirectURI, scopes)
//	pkce, err := oauth.GeneratePKCE()
//	authURL := oauth.BuildAuthorizationURL(conf, pkce)
package oauth
