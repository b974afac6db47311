// Package app wires switchboard together and runs it.
//
// Config is read from flags and SWITCHBOARD_* environment variables through
// viper; the server definitions come from the YAML file at Config.ConfigPath.
// NewApplication builds, in order:
//
//   - the Prometheus metrics sink
//   - the secret resolver (override file, environment, vault)
//   - the OAuth token store and manager
//   - the upstream connection manager
//   - the favorites registry, broker and client-facing MCP server
//
// Nothing connects during construction. Run starts the eager upstreams in
// the background and serves stdio or streamable-http until its context ends.
package app
