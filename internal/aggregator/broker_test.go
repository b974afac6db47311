package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"switchboard/internal/api"
	"switchboard/internal/config"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstreams records every path that would touch an upstream.
type fakeUpstreams struct {
	mu       sync.Mutex
	ids      []string
	tools    map[string][]mcp.Tool
	failing  map[string]error
	cache    map[string][]mcp.Tool
	lists    map[string]int
	invoked  []string
	invokeFn func(id, tool string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

func newFakeUpstreams(tools map[string][]mcp.Tool, ids ...string) *fakeUpstreams {
	return &fakeUpstreams{
		ids:     ids,
		tools:   tools,
		failing: map[string]error{},
		cache:   map[string][]mcp.Tool{},
		lists:   map[string]int{},
	}
}

func (f *fakeUpstreams) ServerIDs() []string { return f.ids }

func (f *fakeUpstreams) ListTools(_ context.Context, id string) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.cache[id]; ok {
		return t, nil
	}
	f.lists[id]++
	if err := f.failing[id]; err != nil {
		return nil, err
	}
	f.cache[id] = f.tools[id]
	return f.tools[id], nil
}

func (f *fakeUpstreams) CachedTools(id string) ([]mcp.Tool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.cache[id]
	return t, ok
}

func (f *fakeUpstreams) Invoke(_ context.Context, id, tool string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, id+"/"+tool)
	f.mu.Unlock()
	if f.invokeFn != nil {
		return f.invokeFn(id, tool, args)
	}
	if id != "github" && id != "linear" {
		return nil, api.NewServerNotFoundError(id)
	}
	return mcp.NewToolResultText(id + "/" + tool), nil
}

func (f *fakeUpstreams) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.lists {
		n += c
	}
	return n
}

func sampleTools() map[string][]mcp.Tool {
	return map[string][]mcp.Tool{
		"github": {
			mcp.NewTool("create_issue", mcp.WithDescription("Open a GitHub issue")),
			mcp.NewTool("list_repos", mcp.WithDescription("List repositories")),
		},
		"linear": {
			mcp.NewTool("create_ticket", mcp.WithDescription("Create a Linear ticket")),
		},
	}
}

func names(descs []ToolDescriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.ServerID+"/"+d.Name)
	}
	return out
}

func TestSearch_EmptyQueryDiscoversOncePerServer(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github", "linear")
	b := NewBroker(up, nil, 0)

	got := b.Search(context.Background(), "", nil)
	assert.Equal(t, []string{"github/create_issue", "github/list_repos", "linear/create_ticket"}, names(got))
	assert.Equal(t, map[string]int{"github": 1, "linear": 1}, up.lists)

	got = b.Search(context.Background(), "", nil)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, up.listCount(), "second search must not discover again")
}

func TestSearch_QueryNeverConnectsUncachedServers(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github", "linear")
	b := NewBroker(up, NewRegistry([]config.ToolEntry{{Name: "create_issue", Server: "github", Title: "Create issue"}}, nil), 0)

	got := b.Search(context.Background(), "x", nil)
	assert.Empty(t, got)
	assert.Zero(t, up.listCount())

	got = b.Search(context.Background(), "create", nil)
	assert.Equal(t, []string{"github/create_issue"}, names(got))
	assert.Equal(t, SourceFavorite, got[0].Source)
	assert.Zero(t, up.listCount())
}

func TestSearch_CachedServersAreFilteredInMemory(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github", "linear")
	_, err := up.ListTools(context.Background(), "linear")
	require.NoError(t, err)
	b := NewBroker(up, nil, 0)

	got := b.Search(context.Background(), "TICKET", nil)
	assert.Equal(t, []string{"linear/create_ticket"}, names(got))
	assert.Equal(t, SourceDiscovered, got[0].Source)
	assert.Zero(t, up.lists["github"])
}

func TestSearch_StaticEntriesWinAndFilterByServer(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github", "linear")
	reg := NewRegistry(
		[]config.ToolEntry{{Name: "create_issue", Server: "github", Title: "Create issue", Description: "favorite copy"}},
		[]config.ToolEntry{
			{Name: "create_issue", Server: "github", Description: "legacy copy"},
			{Name: "old_tool", Server: "linear"},
		},
	)
	b := NewBroker(up, reg, 0)

	got := b.Search(context.Background(), "", nil)
	assert.Equal(t, []string{"github/create_issue", "linear/old_tool", "github/list_repos", "linear/create_ticket"}, names(got))
	assert.Equal(t, "favorite copy", got[0].Description)
	assert.Equal(t, SourceLegacy, got[1].Source)

	got = b.Search(context.Background(), "", []string{"linear"})
	assert.Equal(t, []string{"linear/old_tool", "linear/create_ticket"}, names(got))
}

func TestSearch_StaticNameShadowsDiscoveredEvenWhenFilteredOut(t *testing.T) {
	up := newFakeUpstreams(nil, "github")
	up.cache["github"] = []mcp.Tool{mcp.NewTool("create_issue", mcp.WithDescription("Opens a ticket"))}
	reg := NewRegistry([]config.ToolEntry{{Name: "create_issue", Server: "github", Title: "Create issue"}}, nil)
	b := NewBroker(up, reg, 0)

	assert.Empty(t, b.Search(context.Background(), "ticket", nil))

	got := b.Search(context.Background(), "issue", nil)
	require.Len(t, got, 1)
	assert.Equal(t, SourceFavorite, got[0].Source)
}

func TestSearch_FailingServerIsOmitted(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github", "linear")
	up.failing["github"] = errors.New("spawn failed")
	b := NewBroker(up, nil, 1)

	got := b.Search(context.Background(), "", nil)
	assert.Equal(t, []string{"linear/create_ticket"}, names(got))

	// Not cached, so the next empty search tries again.
	b.Search(context.Background(), "", nil)
	assert.Equal(t, 2, up.lists["github"])
}

func TestInvoke_Resolution(t *testing.T) {
	tools := sampleTools()
	tools["linear"] = append(tools["linear"], mcp.NewTool("list_repos"))
	up := newFakeUpstreams(tools, "github", "linear")
	reg := NewRegistry(nil, []config.ToolEntry{{Name: "legacy_tool", Server: "linear"}})
	b := NewBroker(up, reg, 0)
	ctx := context.Background()

	res, err := b.Invoke(ctx, "github", "create_issue", nil)
	require.NoError(t, err)
	assert.Equal(t, "github/create_issue", res.Content[0].(mcp.TextContent).Text)

	res, err = b.Invoke(ctx, "", "legacy_tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "linear/legacy_tool", res.Content[0].(mcp.TextContent).Text)

	// Unknown to the table and nothing cached yet.
	_, err = b.Invoke(ctx, "", "create_issue", nil)
	assert.True(t, api.IsNotFound(err))

	b.Search(ctx, "", nil)
	res, err = b.Invoke(ctx, "", "create_issue", nil)
	require.NoError(t, err)
	assert.Equal(t, "github/create_issue", res.Content[0].(mcp.TextContent).Text)

	_, err = b.Invoke(ctx, "", "list_repos", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "several servers")

	_, err = b.Invoke(ctx, "nope", "x", nil)
	assert.True(t, api.IsNotFound(err))

	_, err = b.Invoke(ctx, "github", "", nil)
	assert.Error(t, err)
}

func TestInvoke_ArgsForwardedVerbatim(t *testing.T) {
	up := newFakeUpstreams(sampleTools(), "github")
	var got map[string]interface{}
	up.invokeFn = func(_, _ string, args map[string]interface{}) (*mcp.CallToolResult, error) {
		got = args
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("raw")}}, nil
	}
	b := NewBroker(up, nil, 0)

	args := map[string]interface{}{"title": "bug", "labels": []interface{}{"a", "b"}}
	res, err := b.Invoke(context.Background(), "github", "create_issue", args)
	require.NoError(t, err)
	assert.Equal(t, args, got)
	assert.Equal(t, "raw", res.Content[0].(mcp.TextContent).Text)

	_, err = b.Invoke(context.Background(), "github", "create_issue", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
