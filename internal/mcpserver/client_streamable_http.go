package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// StreamableHTTPClient opens an MCP session against a remote URL.
type StreamableHTTPClient struct {
	baseMCPClient
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewStreamableHTTPClient creates a client that sends headers on every
// request. httpClient may be nil.
func NewStreamableHTTPClient(url string, headers map[string]string, httpClient *http.Client) *StreamableHTTPClient {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &StreamableHTTPClient{
		url:        url,
		headers:    headers,
		httpClient: httpClient,
	}
}

// Initialize opens the session and performs the handshake. A 401 from the
// upstream is returned as *AuthRequiredError.
func (c *StreamableHTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StreamableHTTPClient", "Creating StreamableHTTP client for URL: %s", c.url)

	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
		logging.Debug("StreamableHTTPClient", "Configured %d custom headers", len(c.headers))
	}
	if c.httpClient != nil {
		opts = append(opts, transport.WithHTTPBasicClient(c.httpClient))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create StreamableHTTP client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, initializeRequest())
	if err != nil {
		mcpClient.Close()
		if pkgoauth.Is401Error(err) {
			return &AuthRequiredError{
				URL:       c.url,
				Challenge: pkgoauth.ParseWWWAuthenticateFromError(err),
				Err:       err,
			}
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("StreamableHTTPClient", "StreamableHTTP client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

func (c *StreamableHTTPClient) Close() error {
	return c.closeClient()
}

func (c *StreamableHTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	tools, err := c.listTools(ctx)
	return tools, c.authError(err)
}

func (c *StreamableHTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	res, err := c.callTool(ctx, name, args)
	return res, c.authError(err)
}

func (c *StreamableHTTPClient) Ping(ctx context.Context) error {
	return c.authError(c.ping(ctx))
}

// authError wraps a mid-session 401 so the manager can invalidate the token.
func (c *StreamableHTTPClient) authError(err error) error {
	if err == nil || !pkgoauth.Is401Error(err) {
		return err
	}
	return &AuthRequiredError{
		URL:       c.url,
		Challenge: pkgoauth.ParseWWWAuthenticateFromError(err),
		Err:       err,
	}
}
