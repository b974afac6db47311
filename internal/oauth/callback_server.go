package oauth

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"
)

// DefaultCallbackTimeout is how long an authorization attempt waits for the
// browser to come back.
const DefaultCallbackTimeout = 5 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// Outcome is how a single authorization callback ended.
type Outcome int

const (
	OutcomeCode Outcome = iota
	OutcomeTimeout
	OutcomeMismatch
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCode:
		return "code"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// CallbackResult is the result of one callback wait.
type CallbackResult struct {
	Outcome          Outcome
	Code             string
	Error            string
	ErrorDescription string
}

// Err maps a non-code outcome to its sentinel error.
func (r CallbackResult) Err() error {
	switch r.Outcome {
	case OutcomeCode:
		return nil
	case OutcomeTimeout:
		return ErrCallbackTimeout
	case OutcomeMismatch:
		return ErrStateMismatch
	case OutcomeDenied:
		if r.ErrorDescription != "" {
			return fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, r.Error, r.ErrorDescription)
		}
		return fmt.Errorf("%w: %s", ErrAuthorizationDenied, r.Error)
	default:
		return errors.New("unknown callback outcome")
	}
}

// CallbackServer is a single-use loopback listener for the authorization
// redirect. The first request on the redirect path settles the attempt;
// the listener is released as soon as Wait returns.
type CallbackServer struct {
	serverID      string
	redirect      *url.URL
	expectedState string
	timeout       time.Duration

	listener net.Listener
	// extra loopback listeners on the same port, for localhost
	extra    []net.Listener
	server   *http.Server
	resultCh chan CallbackResult
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer prepares a listener for redirectURI that accepts only
// expectedState. A zero timeout means DefaultCallbackTimeout. Port 0 in the
// redirect URI picks a free port.
func NewCallbackServer(serverID, redirectURI, expectedState string, timeout time.Duration) (*CallbackServer, error) {
	u, err := pkgoauth.ValidateRedirectURI(redirectURI)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return &CallbackServer{
		serverID:      serverID,
		redirect:      u,
		expectedState: expectedState,
		timeout:       timeout,
		resultCh:      make(chan CallbackResult, 1),
	}, nil
}

// Start binds the listener and returns the effective redirect URI, which
// differs from the configured one only when port 0 was requested.
func (s *CallbackServer) Start() (string, error) {
	// localhost may resolve to either loopback family in the browser, so
	// it gets both. IPv6 is best effort.
	hosts := []string{"127.0.0.1"}
	switch s.redirect.Hostname() {
	case "::1":
		hosts = []string{"::1"}
	case "localhost":
		hosts = []string{"127.0.0.1", "::1"}
	}
	addr := net.JoinHostPort(hosts[0], s.redirect.Port())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback listener on %s: %w", addr, err)
	}
	s.listener = listener

	port := listener.Addr().(*net.TCPAddr).Port
	for _, host := range hosts[1:] {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			logging.Debug("OAuthCallback", "Callback not reachable on %s: %v", host, err)
			continue
		}
		s.extra = append(s.extra, ln)
	}
	effective := *s.redirect
	effective.Host = net.JoinHostPort(s.redirect.Hostname(), strconv.Itoa(port))
	s.redirect = &effective

	mux := http.NewServeMux()
	mux.HandleFunc(s.redirect.Path, s.handleCallback)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, ln := range append([]net.Listener{listener}, s.extra...) {
		go func(ln net.Listener) {
			_ = s.server.Serve(ln)
		}(ln)
	}

	return s.redirect.String(), nil
}

// RedirectURI returns the effective redirect URI.
func (s *CallbackServer) RedirectURI() string {
	return s.redirect.String()
}

// Addr returns the bound listener address.
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the callback arrives, the timeout passes or ctx ends.
// The listener is stopped before Wait returns in every case.
func (s *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	defer s.Stop()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-s.resultCh:
		return res, nil
	case <-timer.C:
		return CallbackResult{Outcome: OutcomeTimeout}, nil
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	query := r.URL.Query()
	state := query.Get("state")

	var res CallbackResult
	switch {
	case subtle.ConstantTimeCompare([]byte(state), []byte(s.expectedState)) != 1:
		res = CallbackResult{Outcome: OutcomeMismatch, Error: "state_mismatch"}
	case query.Get("error") != "":
		res = CallbackResult{
			Outcome:          OutcomeDenied,
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		}
	case query.Get("code") == "":
		res = CallbackResult{Outcome: OutcomeDenied, Error: "missing_code"}
	default:
		res = CallbackResult{Outcome: OutcomeCode, Code: query.Get("code")}
	}

	if res.Outcome == OutcomeCode {
		_ = successTemplate.Execute(w, map[string]string{"Server": s.serverID})
	} else {
		w.WriteHeader(http.StatusBadRequest)
		_ = errorTemplate.Execute(w, map[string]string{
			"Server":      s.serverID,
			"Error":       res.Error,
			"Description": res.ErrorDescription,
		})
	}

	select {
	case s.resultCh <- res:
	default:
	}
}

// Stop shuts the listener down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, ln := range s.extra {
			_ = ln.Close()
		}
	})
}
