package oauth

import (
	"errors"
	"fmt"
)

// Flow stages, used in FlowError.
const (
	StageDiscovery    = "discovery"
	StageRegistration = "registration"
	StageAuthorize    = "authorize"
	StageExchange     = "exchange"
	StageRefresh      = "refresh"
	StageStorage      = "storage"
)

var (
	// ErrNoClientRegistration means no client id is configured or persisted
	// and the server offers no registration endpoint. It persists until the
	// configuration is fixed.
	ErrNoClientRegistration = errors.New("no client id configured and dynamic client registration is unavailable")

	// ErrCallbackTimeout means the browser never returned to the redirect URI
	// in time.
	ErrCallbackTimeout = errors.New("timed out waiting for the authorization callback")

	// ErrStateMismatch means the callback carried a state that does not
	// belong to this attempt.
	ErrStateMismatch = errors.New("authorization callback state mismatch")

	// ErrAuthorizationDenied means the authorization server redirected back
	// with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrNoEndpoints means neither configuration nor discovery produced an
	// authorization and token endpoint.
	ErrNoEndpoints = errors.New("authorization and token endpoints are unknown")
)

// FlowError ties an OAuth failure to the server and the stage it happened in.
// It never carries token or secret values.
type FlowError struct {
	ServerID string
	Stage    string
	Err      error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("oauth %s for server %s: %v", e.Stage, e.ServerID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func flowError(serverID, stage string, err error) error {
	return &FlowError{ServerID: serverID, Stage: stage, Err: err}
}

// IsFatal reports whether retrying without a configuration change is
// pointless.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoClientRegistration) || errors.Is(err, ErrNoEndpoints)
}
