package mcpserver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"switchboard/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultStdioInitTimeout covers starting the subprocess and the handshake
// when the caller's context has no deadline.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioClient runs an upstream as a child process speaking MCP over
// stdin/stdout. The child inherits the broker environment plus env.
type StdioClient struct {
	baseMCPClient
	command string
	args    []string
	env     map[string]string

	// closed when the child's stderr reaches EOF, i.e. the process exited
	exited chan struct{}
}

func NewStdioClientWithEnv(command string, args []string, env map[string]string) *StdioClient {
	return &StdioClient{
		command: command,
		args:    args,
		env:     env,
	}
}

// Initialize starts the process and performs the handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	// Values are credentials; only names are logged.
	logging.Debug("StdioClient", "Starting %s %v with env keys %v", c.command, c.args, envKeys(c.env))

	mcpClient, err := client.NewStdioMCPClient(c.command, envSlice(c.env), c.args...)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", c.command, err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	initResult, err := mcpClient.Initialize(initCtx, initializeRequest())
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true
	if stderr, ok := client.GetStderr(mcpClient); ok {
		c.exited = make(chan struct{})
		go drainUntilExit(stderr, c.exited)
	}

	logging.Debug("StdioClient", "Initialized %s (server %s %s)", c.command,
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

func (c *StdioClient) Close() error {
	return c.closeClient()
}

func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// Done is closed once the child process has exited. It is nil when the
// process stderr is not available.
func (c *StdioClient) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.exited == nil {
		return nil
	}
	return c.exited
}

// drainUntilExit discards the child's stderr, which may carry credentials,
// and closes exited at EOF.
func drainUntilExit(stderr io.Reader, exited chan struct{}) {
	defer close(exited)
	_, _ = io.Copy(io.Discard, stderr)
}

// GetStderr returns the subprocess stderr.
func (c *StdioClient) GetStderr() (io.Reader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return nil, false
	}
	if concreteClient, ok := c.client.(*client.Client); ok {
		return client.GetStderr(concreteClient)
	}
	return nil, false
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range envKeys(env) {
		out = append(out, k+"="+env[k])
	}
	return out
}
