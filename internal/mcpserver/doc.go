// Package mcpserver manages the connections to upstream MCP servers.
//
// A Manager holds one slot per configured server id. Nothing is started at
// construction: a slot is filled by the first EnsureConnected, ListTools or
// Invoke for that server (or by StartEager for servers with startMode
// eager). Establishment is single-flight per server id, so concurrent first
// calls spawn the process or open the HTTP session exactly once.
//
// Each establishment resolves credentials again, expanding the definition's
// env and headers templates and, for servers with an oauth block, adding the
// bearer token (Authorization header for HTTP, an environment variable for
// stdio).
//
// Tool lists are cached per server after the first successful listing and
// stay cached when the connection is replaced. ListTools may therefore
// connect; CachedTools never does.
//
// When a call fails the upstream is pinged. If the ping fails too, the slot
// is cleared and the next call reconnects. There is no backoff.
package mcpserver
