package mcpserver

import (
	"fmt"

	"switchboard/internal/config"
)

// Credentials is the resolved credential set for one connection attempt.
// It is built fresh for every attempt and never cached.
type Credentials struct {
	// Env is merged into a stdio child's environment.
	Env map[string]string
	// Headers are sent on every request to an HTTP upstream.
	Headers map[string]string
}

// ClientFactory builds an uninitialized client for def.
type ClientFactory func(def config.ServerDefinition, creds Credentials) (MCPClient, error)

// NewMCPClient is the default ClientFactory: it picks the implementation
// matching the definition's transport.
func NewMCPClient(def config.ServerDefinition, creds Credentials) (MCPClient, error) {
	switch def.Transport {
	case config.TransportStdio:
		if def.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
		return NewStdioClientWithEnv(def.Command, def.Args, creds.Env), nil

	case config.TransportStreamableHTTP:
		if def.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http transport")
		}
		return NewStreamableHTTPClient(def.URL, creds.Headers, nil), nil

	default:
		return nil, fmt.Errorf("unsupported transport: %s (supported: %s, %s)",
			def.Transport, config.TransportStdio, config.TransportStreamableHTTP)
	}
}
