package aggregator

import (
	"context"
	"fmt"
	"strings"

	"switchboard/internal/api"
	"switchboard/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// DefaultListConcurrency caps parallel tool listings in one search.
const DefaultListConcurrency = 8

// Broker answers search and invoke over the static registry and the
// upstreams' cached tool lists.
type Broker struct {
	upstreams       Upstreams
	registry        *Registry
	listConcurrency int
}

// NewBroker creates a Broker. A listConcurrency of zero uses the default.
func NewBroker(upstreams Upstreams, registry *Registry, listConcurrency int) *Broker {
	if listConcurrency <= 0 {
		listConcurrency = DefaultListConcurrency
	}
	if registry == nil {
		registry = NewRegistry(nil, nil)
	}
	return &Broker{
		upstreams:       upstreams,
		registry:        registry,
		listConcurrency: listConcurrency,
	}
}

// Registry returns the static tool table.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Search returns static entries followed by discovered tools, filtered by
// query and by the servers filter (empty means all).
//
// Per server: a cached tool list is filtered in memory. An uncached server
// is listed only when query is empty, which may connect it; with a
// non-empty query it is skipped without connecting. A failing server is
// left out of the result and never fails the call.
func (b *Broker) Search(ctx context.Context, query string, servers []string) []ToolDescriptor {
	query = strings.TrimSpace(query)
	allowed := serverFilter(servers)

	var results []ToolDescriptor
	// A static name shadows discovered tools even when the static entry
	// itself is filtered out.
	static := make(map[string]bool)
	for _, d := range b.registry.Entries() {
		static[d.Name] = true
		if !allowed(d.ServerID) || !matches(d, query) {
			continue
		}
		results = append(results, d)
	}

	ids := b.upstreams.ServerIDs()
	perServer := make([][]ToolDescriptor, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.listConcurrency)
	for i, id := range ids {
		if !allowed(id) {
			continue
		}
		if tools, ok := b.upstreams.CachedTools(id); ok {
			perServer[i] = filterTools(id, tools, query)
			continue
		}
		if query != "" {
			logging.Debug("Broker", "Skipping uncached server %s for query %q", id, query)
			continue
		}
		g.Go(func() error {
			tools, err := b.upstreams.ListTools(gctx, id)
			if err != nil {
				logging.Warn("Broker", "Omitting %s from search: %v", id, err)
				return nil
			}
			perServer[i] = filterTools(id, tools, query)
			return nil
		})
	}
	_ = g.Wait()

	for _, descs := range perServer {
		for _, d := range descs {
			if static[d.Name] {
				continue
			}
			results = append(results, d)
		}
	}
	return results
}

// Invoke calls tool on server. With an empty server the tool name is
// resolved through the static table, then through the cached tool lists.
func (b *Broker) Invoke(ctx context.Context, server, tool string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if tool == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if server == "" {
		resolved, err := b.resolveServer(tool)
		if err != nil {
			return nil, err
		}
		server = resolved
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return b.upstreams.Invoke(ctx, server, tool, args)
}

func (b *Broker) resolveServer(tool string) (string, error) {
	if d, ok := b.registry.Lookup(tool); ok {
		return d.ServerID, nil
	}

	var found []string
	for _, id := range b.upstreams.ServerIDs() {
		tools, ok := b.upstreams.CachedTools(id)
		if !ok {
			continue
		}
		for _, t := range tools {
			if t.Name == tool {
				found = append(found, id)
				break
			}
		}
	}
	switch len(found) {
	case 0:
		return "", api.NewToolNotFoundError(tool)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("tool %s is offered by several servers (%s); pass the server explicitly",
			tool, strings.Join(found, ", "))
	}
}

func serverFilter(servers []string) func(string) bool {
	if len(servers) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(servers))
	for _, s := range servers {
		set[s] = true
	}
	return func(id string) bool { return set[id] }
}

func filterTools(serverID string, tools []mcp.Tool, query string) []ToolDescriptor {
	var out []ToolDescriptor
	for _, t := range tools {
		d := descriptorFromTool(serverID, t)
		if matches(d, query) {
			out = append(out, d)
		}
	}
	return out
}

// matches is a case-insensitive substring match over name, title and
// description. An empty query matches everything.
func matches(d ToolDescriptor, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(d.Name), q) ||
		strings.Contains(strings.ToLower(d.Title), q) ||
		strings.Contains(strings.ToLower(d.Description), q)
}
