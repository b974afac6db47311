package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NewServerNotFoundError("github")
	assert.Equal(t, "server github not found", err.Error())
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("invoke: %w", err)))
	assert.False(t, IsNotFound(errors.New("server github not found")))
	assert.False(t, IsNotFound(nil))

	toolErr := NewToolNotFoundError("create_issue")
	assert.Equal(t, "tool", toolErr.ResourceType)
	assert.Contains(t, toolErr.Error(), "create_issue")
}

func TestHandleError(t *testing.T) {
	res := HandleErrorWithPrefix(errors.New("boom"), "invoke failed")
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "invoke failed: boom", text.Text)

	assert.True(t, HandleError(errors.New("x")).IsError)
}
