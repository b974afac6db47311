// Package aggregator is the client-facing side of the broker.
//
// The client sees one MCP server with two meta-tools and the configured
// favorites:
//
//   - search(query?, servers?) lists favorites and legacy registry entries,
//     then tools discovered on the upstreams.
//   - invoke(server?, tool, args?) forwards a call to an upstream and
//     returns its result unchanged.
//   - each favorite is a native tool that invokes the same upstream tool.
//
// Search never connects an upstream for a non-empty query: servers whose
// tools are not cached yet are skipped. Only an empty query lists uncached
// servers, concurrently, and a failing server is left out of the result.
//
// Server serves the tools over stdio or streamable HTTP (/mcp), with
// Prometheus metrics at /metrics on the HTTP transport.
package aggregator
