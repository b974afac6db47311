package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"switchboard/internal/api"
	"switchboard/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Meta-tool names.
const (
	SearchToolName = "search"
	InvokeToolName = "invoke"
)

// Transports the broker can serve on.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

const shutdownTimeout = 5 * time.Second

// openObjectSchema accepts any arguments; favorites forward them untouched.
var openObjectSchema = json.RawMessage(`{"type":"object","additionalProperties":true}`)

// ServerConfig configures the client-facing MCP server.
type ServerConfig struct {
	Name    string
	Version string
	// MetricsHandler is mounted at /metrics on the HTTP transport when set.
	MetricsHandler http.Handler
}

// Server exposes a Broker to the client as an MCP server.
type Server struct {
	broker *Broker
	mcp    *server.MCPServer
	config ServerConfig
}

// NewServer creates the MCP server and registers search, invoke and one
// native tool per favorite.
func NewServer(broker *Broker, cfg ServerConfig) *Server {
	if cfg.Name == "" {
		cfg.Name = "switchboard"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		broker: broker,
		config: cfg,
		mcp: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool(SearchToolName,
				mcp.WithDescription("Search the tools offered by the configured upstream servers. "+
					"Favorites are always listed. Servers whose tools were never listed are only "+
					"discovered when the query is empty."),
				mcp.WithString("query", mcp.Description("Case-insensitive text matched against tool name, title and description")),
				mcp.WithArray("servers", mcp.Description("Restrict to these server ids"), mcp.WithStringItems()),
			),
			Handler: s.handleSearch,
		},
		{
			Tool: mcp.NewTool(InvokeToolName,
				mcp.WithDescription("Call a tool on an upstream server and return its result unchanged"),
				mcp.WithString("server", mcp.Description("Server id; optional when the tool name is unambiguous")),
				mcp.WithString("tool", mcp.Required(), mcp.Description("Tool name on the upstream")),
				mcp.WithObject("args", mcp.Description("Arguments passed to the upstream tool")),
			),
			Handler: s.handleInvoke,
		},
	}

	for _, fav := range s.broker.Registry().Favorites() {
		if fav.Name == SearchToolName || fav.Name == InvokeToolName {
			logging.Warn("Aggregator", "Favorite %s clashes with a built-in tool and is not registered", fav.Name)
			continue
		}
		description := fav.Description
		if description == "" {
			description = fav.Title
		}
		tool := mcp.NewToolWithRawSchema(fav.Name, description, openObjectSchema)
		tool.Annotations.Title = fav.Title
		tools = append(tools, server.ServerTool{Tool: tool, Handler: s.favoriteHandler(fav)})
	}

	s.mcp.AddTools(tools...)
	logging.Debug("Aggregator", "Registered %d tools", len(tools))
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	servers := req.GetStringSlice("servers", nil)

	results := s.broker.Search(ctx, query, servers)
	if results == nil {
		results = []ToolDescriptor{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return api.HandleErrorWithPrefix(err, "Failed to encode search results"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool, err := req.RequireString("tool")
	if err != nil {
		return api.HandleError(err), nil
	}
	serverID := req.GetString("server", "")

	var args map[string]interface{}
	if raw, ok := req.GetArguments()["args"]; ok && raw != nil {
		args, ok = raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("args must be an object"), nil
		}
	}

	res, err := s.broker.Invoke(ctx, serverID, tool, args)
	if err != nil {
		return api.HandleErrorWithPrefix(err, fmt.Sprintf("Failed to invoke %s", tool)), nil
	}
	return res, nil
}

func (s *Server) favoriteHandler(fav ToolDescriptor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.broker.Invoke(ctx, fav.ServerID, fav.Name, req.GetArguments())
		if err != nil {
			return api.HandleErrorWithPrefix(err, fmt.Sprintf("Failed to invoke %s", fav.Name)), nil
		}
		return res, nil
	}
}

// ServeStdio serves the client over in/out until ctx ends or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("Aggregator", "Serving MCP over stdio")
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// Handler returns the HTTP routes: /mcp and, when configured, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath("/mcp")))
	if s.config.MetricsHandler != nil {
		mux.Handle("/metrics", s.config.MetricsHandler)
	}
	return mux
}

// ServeStreamableHTTP serves the streamable HTTP transport on ln until ctx ends, then
// shuts down gracefully.
func (s *Server) ServeStreamableHTTP(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	logging.Info("Aggregator", "Serving MCP over streamable-http on http://%s/mcp", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("Aggregator", err, "Error shutting down HTTP server")
		return err
	}
	return nil
}

// Serve runs the named transport. addr is used by streamable-http only.
func (s *Server) Serve(ctx context.Context, transport, addr string, in io.Reader, out io.Writer) error {
	switch transport {
	case TransportStdio, "":
		return s.ServeStdio(ctx, in, out)
	case TransportStreamableHTTP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return s.ServeStreamableHTTP(ctx, ln)
	default:
		return fmt.Errorf("unsupported transport: %s (supported: %s, %s)", transport, TransportStdio, TransportStreamableHTTP)
	}
}
