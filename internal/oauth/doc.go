// Package oauth obtains and keeps access tokens for upstream MCP servers
// that require OAuth.
//
// The Manager serves one token per upstream server id. A request for a token
// is answered, in order, from:
//
//  1. the in-memory or persisted token, while it is more than five minutes
//     from expiry
//  2. a refresh_token grant, when a refresh token is stored
//  3. a full authorization code flow with PKCE (S256)
//
// At most one refresh or authorization runs per server at a time. Callers
// that arrive during a flow wait for its result; a caller giving up does not
// cancel the flow for the others.
//
// # Authorization flow
//
// Endpoints come from the server definition and, for the gaps, from RFC 8414
// or OpenID Connect discovery against the upstream's origin. The client is
// the configured one, else a previously registered one, else a new public
// client from RFC 7591 dynamic registration. The loopback CallbackServer is
// started before registration so that the registered redirect URI carries
// the real port.
//
// The callback waits five minutes by default. State mismatch, an error
// response and a timeout all end the flow with a FlowError naming the stage.
//
// # Storage
//
// TokenStore keeps one token file and one client file per server in the
// token directory (default ~/.config/switchboard/tokens). Files are written
// atomically with mode 0600. Token values are wrapped in RedactedToken so
// they do not leak through logging.
package oauth
