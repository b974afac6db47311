package aggregator

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Upstreams is the part of the connection manager the broker uses.
type Upstreams interface {
	ServerIDs() []string
	// ListTools may connect to the upstream.
	ListTools(ctx context.Context, id string) ([]mcp.Tool, error)
	// CachedTools never connects.
	CachedTools(id string) ([]mcp.Tool, bool)
	Invoke(ctx context.Context, id, tool string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Source records where a tool descriptor came from.
type Source string

const (
	SourceFavorite   Source = "favorite"
	SourceLegacy     Source = "legacy"
	SourceDiscovered Source = "discovered"
)

// ToolDescriptor is one entry of a search result.
type ToolDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	ServerID    string `json:"server" yaml:"server"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Source      Source `json:"source" yaml:"source"`
	// InputSchema is set for discovered tools.
	InputSchema interface{} `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// descriptorFromTool converts a discovered upstream tool.
func descriptorFromTool(serverID string, tool mcp.Tool) ToolDescriptor {
	d := ToolDescriptor{
		Name:        tool.Name,
		ServerID:    serverID,
		Description: tool.Description,
		Source:      SourceDiscovered,
	}
	if tool.Annotations.Title != "" {
		d.Title = tool.Annotations.Title
	}
	switch {
	case len(tool.RawInputSchema) > 0:
		d.InputSchema = tool.RawInputSchema
	case tool.InputSchema.Type != "":
		d.InputSchema = tool.InputSchema
	}
	return d
}
