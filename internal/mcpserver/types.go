package mcpserver

import (
	"errors"
	"fmt"

	pkgoauth "switchboard/pkg/oauth"
)

// Stages reported in StageError.
const (
	StageResolveCredentials = "resolve credentials"
	StageConnect            = "connect"
	StageListTools          = "list tools"
	StageCallTool           = "call tool"
)

// StageError attaches the server id and the failing stage to an upstream
// error. It never carries credential values.
type StageError struct {
	ServerID string
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("server %s: %s: %v", e.ServerID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(serverID, stage string, err error) error {
	return &StageError{ServerID: serverID, Stage: stage, Err: err}
}

// AuthRequiredError is returned when an HTTP upstream answers 401.
type AuthRequiredError struct {
	URL       string
	Challenge *pkgoauth.AuthChallenge
	Err       error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s: %v", e.URL, e.Err)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}

// IsAuthRequired reports whether err is or wraps an AuthRequiredError.
func IsAuthRequired(err error) bool {
	var authErr *AuthRequiredError
	return errors.As(err, &authErr)
}
