package api

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NotFoundError reports a reference to a server or tool that does not
// exist. It is a configuration error: fatal for the call, never retried.
type NotFoundError struct {
	// ResourceType is "server" or "tool".
	ResourceType string
	ResourceName string
	// Message replaces the default text when set.
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
//
// Example:
//
//	if _, err := mgr.Invoke(ctx, id, tool, args); api.IsNotFound(err) {
//	    return mcp.NewToolResultError(err.Error()), nil
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// NewNotFoundErrorWithMessage creates a NotFoundError with a custom message.
func NewNotFoundErrorWithMessage(resourceType, resourceName, message string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
		Message:      message,
	}
}

var (
	// NewServerNotFoundError is returned for an unknown upstream server id.
	NewServerNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("server", id)
	}

	// NewToolNotFoundError is returned when a tool name resolves to no server.
	NewToolNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundErrorWithMessage("tool", name,
			fmt.Sprintf("tool %s not found; run search first or pass the server explicitly", name))
	}
)

// HandleError turns err into a tool error result for the client.
func HandleError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// HandleErrorWithPrefix is HandleError with a leading context string.
func HandleErrorWithPrefix(err error, prefix string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}
