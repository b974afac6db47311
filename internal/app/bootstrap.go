package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"switchboard/internal/aggregator"
	"switchboard/internal/config"
	"switchboard/internal/mcpserver"
	"switchboard/internal/metrics"
	"switchboard/internal/oauth"
	"switchboard/internal/secrets"
	"switchboard/pkg/logging"
)

// Application holds the wired broker: secret resolution, token management,
// the upstream connection manager and the client-facing server.
//
// Construction never connects anything. Run starts the eager servers and
// serves the selected transport until ctx ends.
type Application struct {
	config *Config

	metrics  *metrics.Prometheus
	secrets  *secrets.Resolver
	tokens   *oauth.Manager
	store    *oauth.TokenStore
	upstream *mcpserver.Manager
	broker   *aggregator.Broker
	server   *aggregator.Server

	in  io.Reader
	out io.Writer
}

// NewApplication initializes logging, loads the configuration file and wires
// every component.
func NewApplication(cfg *Config) (*Application, error) {
	// stdout carries the stdio transport, so logs always go to stderr.
	logging.InitForCLI(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	if cfg.File == nil {
		fileCfg, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
		}
		cfg.File = fileCfg
	}
	logging.Info("Bootstrap", "Loaded %d server definitions from %s", len(cfg.File.Servers), cfg.ConfigPath)

	return newApplication(cfg)
}

func newApplication(cfg *Config) (*Application, error) {
	prom := metrics.NewPrometheus()

	resolver := secrets.NewResolver(secrets.Options{
		OverrideFile: cfg.SecretsFile,
		Vault:        cfg.Vault,
		Metrics:      prom,
	})

	store, err := oauth.NewTokenStore(cfg.TokenDir)
	if err != nil {
		resolver.Close()
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	tokens := oauth.NewManager(oauth.Options{
		Store:           store,
		Secrets:         resolver,
		CallbackTimeout: cfg.CallbackTimeout,
		Metrics:         prom,
	})

	upstream := mcpserver.NewManager(mcpserver.Options{
		Servers: cfg.File.Servers,
		Secrets: resolver,
		Tokens:  tokens,
		Metrics: prom,
	})

	registry := aggregator.NewRegistry(cfg.File.Favorites, cfg.File.LegacyRegistry)
	broker := aggregator.NewBroker(upstream, registry, 0)
	server := aggregator.NewServer(broker, aggregator.ServerConfig{
		Name:           mcpserver.ClientName,
		Version:        mcpserver.ClientVersion,
		MetricsHandler: prom.Handler(),
	})

	return &Application{
		config:   cfg,
		metrics:  prom,
		secrets:  resolver,
		tokens:   tokens,
		store:    store,
		upstream: upstream,
		broker:   broker,
		server:   server,
		in:       os.Stdin,
		out:      os.Stdout,
	}, nil
}

// Run serves the configured transport until ctx ends, then closes every
// upstream connection.
func (a *Application) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.secrets.Watch(); err != nil {
		logging.Warn("Bootstrap", "Override file changes will not be picked up: %v", err)
	}

	go a.upstream.StartEager(ctx)

	return a.server.Serve(ctx, a.config.Transport, a.config.Addr, a.in, a.out)
}

// Close releases the upstream connections and the override watcher. It is
// safe to call more than once.
func (a *Application) Close() {
	if err := a.upstream.Close(); err != nil {
		logging.Warn("Bootstrap", "Error closing upstream connections: %v", err)
	}
	a.secrets.Close()
}

// Config returns the runtime configuration.
func (a *Application) Config() *Config {
	return a.config
}

// Upstreams returns the connection manager.
func (a *Application) Upstreams() *mcpserver.Manager {
	return a.upstream
}

// Tokens returns the OAuth token manager.
func (a *Application) Tokens() *oauth.Manager {
	return a.tokens
}

// Broker returns the search and invoke frontage.
func (a *Application) Broker() *aggregator.Broker {
	return a.broker
}

// Server returns the client-facing MCP server.
func (a *Application) Server() *aggregator.Server {
	return a.server
}
