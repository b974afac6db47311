package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/metrics"
	"switchboard/internal/oauth"
	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// pingTimeout bounds the liveness ping after a failed call.
const pingTimeout = 5 * time.Second

// eagerConcurrency caps parallel eager connects at startup.
const eagerConcurrency = 4

// SecretExpander resolves placeholders in environment and header templates.
type SecretExpander interface {
	ExpandMap(ctx context.Context, m map[string]string) map[string]string
}

// TokenProvider supplies bearer tokens for servers with an oauth block.
type TokenProvider interface {
	GetToken(ctx context.Context, serverID, serverURL string, spec *config.OAuthSpec) (oauth.RedactedToken, error)
	Invalidate(serverID string, challenge *pkgoauth.AuthChallenge)
}

// Options configure a Manager.
type Options struct {
	Servers []config.ServerDefinition
	Secrets SecretExpander
	Tokens  TokenProvider
	// Factory defaults to NewMCPClient.
	Factory ClientFactory
	Metrics metrics.Metrics
}

// Connection is a live session with one upstream.
type Connection struct {
	ServerID    string
	ID          string
	ConnectedAt time.Time

	client   MCPClient
	lastUsed atomic.Int64
	// done is closed when the upstream goes away on its own; nil if the
	// transport cannot tell.
	done <-chan struct{}
}

// exitNotifier is implemented by clients that can tell when the upstream
// exits, such as a stdio child process.
type exitNotifier interface {
	Done() <-chan struct{}
}

// LastUsed returns the time of the last call through this connection.
func (c *Connection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

func (c *Connection) exited() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

// ServerStatus is a snapshot of one configured server.
type ServerStatus struct {
	ID        string
	Transport string
	StartMode string
	OAuth     bool
	Connected bool
	// Tools is the cached tool count; -1 when nothing is cached.
	Tools int
}

// Manager owns the connection table and the tool cache. Connections are
// established lazily on first use; for each server id at most one
// establishment is in flight and concurrent callers share its result.
type Manager struct {
	defs    map[string]config.ServerDefinition
	order   []string
	secrets SecretExpander
	tokens  TokenProvider
	factory ClientFactory
	metrics metrics.Metrics

	connectGroup singleflight.Group
	listGroup    singleflight.Group

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	toolsMu sync.RWMutex
	// survives reconnects
	tools map[string][]mcp.Tool
}

// NewManager creates a Manager for the given server definitions.
func NewManager(opts Options) *Manager {
	if opts.Factory == nil {
		opts.Factory = NewMCPClient
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	m := &Manager{
		defs:    make(map[string]config.ServerDefinition, len(opts.Servers)),
		secrets: opts.Secrets,
		tokens:  opts.Tokens,
		factory: opts.Factory,
		metrics: opts.Metrics,
		conns:   make(map[string]*Connection),
		tools:   make(map[string][]mcp.Tool),
	}
	for _, def := range opts.Servers {
		m.defs[def.ID] = def
		m.order = append(m.order, def.ID)
	}
	return m
}

// ServerIDs returns the configured server ids in configuration order.
func (m *Manager) ServerIDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Definition returns the definition for id.
func (m *Manager) Definition(id string) (config.ServerDefinition, bool) {
	def, ok := m.defs[id]
	return def, ok
}

// EnsureConnected returns the live connection for id, establishing it if
// needed. When the caller's context ends first it stops waiting, but the
// establishment continues for other callers.
func (m *Manager) EnsureConnected(ctx context.Context, id string) (*Connection, error) {
	def, ok := m.defs[id]
	if !ok {
		return nil, api.NewServerNotFoundError(id)
	}

	if conn := m.connection(id); conn != nil {
		return conn, nil
	}

	ch := m.connectGroup.DoChan(id, func() (interface{}, error) {
		if conn := m.connection(id); conn != nil {
			return conn, nil
		}
		return m.connect(context.WithoutCancel(ctx), def)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connection returns the live connection for id. A connection whose
// upstream has exited is evicted and reported as absent.
func (m *Manager) connection(id string) *Connection {
	m.mu.RLock()
	conn := m.conns[id]
	m.mu.RUnlock()
	if conn != nil && conn.exited() {
		m.evict(conn, "upstream exited")
		return nil
	}
	return conn
}

// Connected reports whether a live connection exists for id.
func (m *Manager) Connected(id string) bool {
	return m.connection(id) != nil
}

func (m *Manager) connect(ctx context.Context, def config.ServerDefinition) (*Connection, error) {
	start := time.Now()
	client, err := m.dial(ctx, def)
	if err != nil && def.OAuth != nil && m.tokens != nil {
		var authErr *AuthRequiredError
		if errors.As(err, &authErr) {
			logging.Info("MCPServerManager", "Server %s rejected its token, re-authorizing", def.ID)
			m.tokens.Invalidate(def.ID, authErr.Challenge)
			client, err = m.dial(ctx, def)
		}
	}
	m.metrics.ObserveConnect(def.ID, time.Since(start), err)
	if err != nil {
		logging.Warn("MCPServerManager", "Failed to connect to %s: %v", def.ID, err)
		return nil, err
	}

	conn := &Connection{
		ServerID:    def.ID,
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		client:      client,
	}
	if n, ok := client.(exitNotifier); ok {
		conn.done = n.Done()
	}
	conn.touch()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = client.Close()
		return nil, fmt.Errorf("connection manager is closed")
	}
	m.conns[def.ID] = conn
	m.mu.Unlock()

	if conn.done != nil {
		go m.watchExit(conn)
	}

	logging.Info("MCPServerManager", "Connected to %s over %s in %s", def.ID, def.Transport, time.Since(start).Round(time.Millisecond))
	return conn, nil
}

func (m *Manager) dial(ctx context.Context, def config.ServerDefinition) (MCPClient, error) {
	creds, err := m.credentials(ctx, def)
	if err != nil {
		return nil, stageError(def.ID, StageResolveCredentials, err)
	}

	client, err := m.factory(def, creds)
	if err != nil {
		return nil, stageError(def.ID, StageConnect, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, def.ConnectTimeout())
	defer cancel()
	if err := client.Initialize(initCtx); err != nil {
		_ = client.Close()
		return nil, stageError(def.ID, StageConnect, err)
	}
	return client, nil
}

// credentials resolves the environment and header templates and injects the
// OAuth bearer token. Nothing here is cached across attempts.
func (m *Manager) credentials(ctx context.Context, def config.ServerDefinition) (Credentials, error) {
	creds := Credentials{
		Env:     m.expand(ctx, def.Env),
		Headers: m.expand(ctx, def.Headers),
	}

	if def.OAuth == nil {
		return creds, nil
	}
	if m.tokens == nil {
		return creds, fmt.Errorf("server declares oauth but no token provider is configured")
	}

	tok, err := m.tokens.GetToken(ctx, def.ID, def.URL, def.OAuth)
	if err != nil {
		return creds, err
	}

	switch def.Transport {
	case config.TransportStdio:
		creds.Env[def.OAuth.TokenEnvName()] = tok.Value()
	default:
		creds.Headers["Authorization"] = "Bearer " + tok.Value()
	}
	return creds, nil
}

func (m *Manager) expand(ctx context.Context, in map[string]string) map[string]string {
	if m.secrets != nil && len(in) > 0 {
		if out := m.secrets.ExpandMap(ctx, in); out != nil {
			return out
		}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ListTools returns the tools of id, from the cache when present. Otherwise
// it connects (a side effect callers must expect) and lists the upstream.
func (m *Manager) ListTools(ctx context.Context, id string) ([]mcp.Tool, error) {
	if _, ok := m.defs[id]; !ok {
		return nil, api.NewServerNotFoundError(id)
	}
	if tools, ok := m.CachedTools(id); ok {
		return tools, nil
	}

	ch := m.listGroup.DoChan(id, func() (interface{}, error) {
		if tools, ok := m.CachedTools(id); ok {
			return tools, nil
		}
		return m.discover(context.WithoutCancel(ctx), id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]mcp.Tool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) discover(ctx context.Context, id string) ([]mcp.Tool, error) {
	conn, err := m.EnsureConnected(ctx, id)
	if err != nil {
		m.metrics.ObserveDiscovery(id, err)
		return nil, err
	}

	conn.touch()
	tools, err := conn.client.ListTools(ctx)
	m.metrics.ObserveDiscovery(id, err)
	if err != nil {
		m.handleFailure(ctx, conn, err)
		return nil, stageError(id, StageListTools, err)
	}

	m.toolsMu.Lock()
	m.tools[id] = tools
	m.toolsMu.Unlock()

	logging.Info("MCPServerManager", "Discovered %d tools on %s", len(tools), id)
	return tools, nil
}

// CachedTools returns the cached tool list for id without connecting.
func (m *Manager) CachedTools(id string) ([]mcp.Tool, bool) {
	m.toolsMu.RLock()
	defer m.toolsMu.RUnlock()
	tools, ok := m.tools[id]
	return tools, ok
}

// Invoke forwards a tool call to id and returns the upstream result as is.
// A result flagged IsError is still a result, not an error.
func (m *Manager) Invoke(ctx context.Context, id, tool string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	conn, err := m.EnsureConnected(ctx, id)
	if err != nil {
		return nil, err
	}

	conn.touch()
	start := time.Now()
	res, err := conn.client.CallTool(ctx, tool, args)
	m.metrics.ObserveToolCall(id, time.Since(start), err)
	if err != nil {
		m.handleFailure(ctx, conn, err)
		return nil, stageError(id, StageCallTool, err)
	}
	return res, nil
}

// handleFailure decides whether a failed call means the upstream is gone. A
// 401 drops the token and the connection; otherwise a ping decides. A
// cleared slot is re-established lazily by the next call.
func (m *Manager) handleFailure(ctx context.Context, conn *Connection, callErr error) {
	var authErr *AuthRequiredError
	if errors.As(callErr, &authErr) {
		if m.tokens != nil {
			m.tokens.Invalidate(conn.ServerID, authErr.Challenge)
		}
		m.evict(conn, "token rejected")
		return
	}

	if conn.exited() {
		m.evict(conn, "upstream exited")
		return
	}

	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
	defer cancel()
	if err := conn.client.Ping(pingCtx); err != nil {
		m.evict(conn, err.Error())
	}
}

// watchExit clears the slot as soon as the upstream exits, so the next call
// re-establishes it. Closing the client also ends the wait.
func (m *Manager) watchExit(conn *Connection) {
	<-conn.done
	m.evict(conn, "upstream exited")
}

// evict clears the slot if it still holds conn.
func (m *Manager) evict(conn *Connection, reason string) {
	m.mu.Lock()
	current := m.conns[conn.ServerID]
	if current == conn {
		delete(m.conns, conn.ServerID)
	}
	m.mu.Unlock()
	if current != conn {
		return
	}

	logging.Warn("MCPServerManager", "Dropping connection to %s: %s", conn.ServerID, reason)
	if err := conn.client.Close(); err != nil {
		logging.Debug("MCPServerManager", "Error closing %s: %v", conn.ServerID, err)
	}
	m.metrics.ObserveDisconnect(conn.ServerID)
}

// StartEager connects and lists every eager server. Failures are logged;
// the servers stay lazy for the next call.
func (m *Manager) StartEager(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eagerConcurrency)
	for _, id := range m.order {
		if !m.defs[id].IsEager() {
			continue
		}
		g.Go(func() error {
			if _, err := m.ListTools(gctx, id); err != nil {
				logging.Warn("MCPServerManager", "Eager start of %s failed: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Status returns a snapshot of every configured server.
func (m *Manager) Status() []ServerStatus {
	out := make([]ServerStatus, 0, len(m.order))
	for _, id := range m.order {
		def := m.defs[id]
		st := ServerStatus{
			ID:        id,
			Transport: def.Transport,
			StartMode: def.StartMode,
			OAuth:     def.OAuth != nil,
			Connected: m.Connected(id),
			Tools:     -1,
		}
		if tools, ok := m.CachedTools(id); ok {
			st.Tools = len(tools)
		}
		out = append(out, st)
	}
	return out
}

// Close drops every connection. Later establishments fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		m.metrics.ObserveDisconnect(id)
	}
	return errors.Join(errs...)
}
