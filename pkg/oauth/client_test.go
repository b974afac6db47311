package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		c := NewClient()
		assert.NotNil(t, c.httpClient)
		assert.NotNil(t, c.logger)
		assert.NotNil(t, c.metadataCache)
		assert.Equal(t, DefaultMetadataCacheTTL, c.metadataTTL)
		assert.Equal(t, DefaultClientName, c.clientName)
	})

	t.Run("applies options", func(t *testing.T) {
		customHTTP := &http.Client{Timeout: 10 * time.Second}
		c := NewClient(
			WithHTTPClient(customHTTP),
			WithMetadataCacheTTL(5*time.Minute),
			WithClientName("tester"),
		)
		assert.Same(t, customHTTP, c.httpClient)
		assert.Equal(t, 5*time.Minute, c.metadataTTL)
		assert.Equal(t, "tester", c.clientName)
	})
}

func TestDiscoverMetadata(t *testing.T) {
	t.Run("discovers via RFC 8414 endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/oauth-authorization-server" {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(Metadata{
					Issuer:                "https://issuer.example.com",
					AuthorizationEndpoint: "https://issuer.example.com/authorize",
					TokenEndpoint:         "https://issuer.example.com/token",
					RegistrationEndpoint:  "https://issuer.example.com/register",
				})
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		md, err := c.DiscoverMetadata(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "https://issuer.example.com/authorize", md.AuthorizationEndpoint)
		assert.Equal(t, "https://issuer.example.com/register", md.RegistrationEndpoint)
	})

	t.Run("falls back to OIDC discovery", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/.well-known/openid-configuration" {
				_ = json.NewEncoder(w).Encode(Metadata{TokenEndpoint: "https://oidc/token"})
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		md, err := c.DiscoverMetadata(context.Background(), server.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, "https://oidc/token", md.TokenEndpoint)
	})

	t.Run("fails when neither document exists", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.DiscoverMetadata(context.Background(), server.URL)
		assert.Error(t, err)
	})

	t.Run("caches and deduplicates fetches", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			time.Sleep(20 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(Metadata{TokenEndpoint: "t"})
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.DiscoverMetadata(context.Background(), server.URL)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		_, err := c.DiscoverMetadata(context.Background(), server.URL)
		require.NoError(t, err)

		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

		c.ClearMetadataCache()
		_, err = c.DiscoverMetadata(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})
}

func TestRegisterClient(t *testing.T) {
	t.Run("registers a public client", func(t *testing.T) {
		var got registrationRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(registrationResponse{ClientID: "dyn-123"})
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		reg, err := c.RegisterClient(context.Background(), server.URL, "http://localhost:3000/callback", []string{"read", "write"})
		require.NoError(t, err)

		assert.Equal(t, "dyn-123", reg.ClientID)
		assert.Empty(t, reg.ClientSecret)
		assert.Equal(t, []string{"http://localhost:3000/callback"}, got.RedirectURIs)
		assert.ElementsMatch(t, []string{"authorization_code", "refresh_token"}, got.GrantTypes)
		assert.Equal(t, "none", got.TokenEndpointAuthMethod)
		assert.Equal(t, "read write", got.Scope)
	})

	t.Run("rejects error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.RegisterClient(context.Background(), server.URL, "http://localhost:1/cb", nil)
		assert.ErrorContains(t, err, "400")
	})

	t.Run("rejects missing client id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		_, err := c.RegisterClient(context.Background(), server.URL, "http://localhost:1/cb", nil)
		assert.Error(t, err)
	})
}

func TestConfig_AuthStyle(t *testing.T) {
	eps := Endpoints{AuthorizationURL: "https://a/authorize", TokenURL: "https://a/token"}

	public := Config(eps, ClientRegistration{ClientID: "c"}, "http://localhost:1/cb", nil)
	assert.Equal(t, oauth2.AuthStyleInParams, public.Endpoint.AuthStyle)

	confidential := Config(eps, ClientRegistration{ClientID: "c", ClientSecret: "s"}, "http://localhost:1/cb", nil)
	assert.Equal(t, oauth2.AuthStyleInHeader, confidential.Endpoint.AuthStyle)
}

func TestBuildAuthorizationURL(t *testing.T) {
	conf := Config(Endpoints{AuthorizationURL: "https://auth.example.com/authorize", TokenURL: "https://auth.example.com/token"},
		ClientRegistration{ClientID: "client-1"}, "http://localhost:3000/callback", []string{"read", "write"})
	pkce := &PKCEChallenge{CodeChallenge: "chal", CodeChallengeMethod: "S256", State: "st"}

	raw := BuildAuthorizationURL(conf, pkce)
	assert.Contains(t, raw, "response_type=code")
	assert.Contains(t, raw, "client_id=client-1")
	assert.Contains(t, raw, "code_challenge=chal")
	assert.Contains(t, raw, "code_challenge_method=S256")
	assert.Contains(t, raw, "state=st")
	assert.Contains(t, raw, "scope=read+write")
	assert.Contains(t, raw, "redirect_uri=http%3A%2F%2Flocalhost%3A3000%2Fcallback")
}

func TestExchangeCode(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("uses basic auth with a client secret", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-1", user)
			assert.Equal(t, "secret-1", pass)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","refresh_token":"rt","expires_in":3600}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		conf := Config(Endpoints{TokenURL: server.URL}, ClientRegistration{ClientID: "client-1", ClientSecret: "secret-1"}, "http://localhost:1/cb", nil)
		ts, err := c.ExchangeCode(context.Background(), conf, "the-code", "the-verifier", now)
		require.NoError(t, err)

		assert.Equal(t, "at", ts.AccessToken)
		assert.Equal(t, "Bearer", ts.TokenType)
		assert.Equal(t, "rt", ts.RefreshToken)
		assert.Equal(t, now.UnixMilli()+3600*1000, ts.ExpiresAt)
	})

	t.Run("public client sends client_id in form", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _, ok := r.BasicAuth()
			assert.False(t, ok)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		conf := Config(Endpoints{TokenURL: server.URL}, ClientRegistration{ClientID: "client-1"}, "http://localhost:1/cb", nil)
		ts, err := c.ExchangeCode(context.Background(), conf, "code", "v", now)
		require.NoError(t, err)
		assert.Zero(t, ts.ExpiresAt)
	})

	t.Run("error status does not leak body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"secret-ish detail"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		conf := Config(Endpoints{TokenURL: server.URL}, ClientRegistration{ClientID: "c"}, "http://localhost:1/cb", nil)
		_, err := c.ExchangeCode(context.Background(), conf, "code", "v", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Contains(t, err.Error(), "invalid_grant")
		assert.NotContains(t, err.Error(), "secret-ish")
	})
}

func TestRefresh(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("keeps the old refresh token when none is returned", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "old-rt", r.PostForm.Get("refresh_token"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"new-at","token_type":"Bearer","expires_in":120}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		conf := Config(Endpoints{TokenURL: server.URL}, ClientRegistration{ClientID: "c"}, "", nil)
		ts, err := c.Refresh(context.Background(), conf, "old-rt", now)
		require.NoError(t, err)
		assert.Equal(t, "new-at", ts.AccessToken)
		assert.Equal(t, "old-rt", ts.RefreshToken)
		assert.Equal(t, now.UnixMilli()+120*1000, ts.ExpiresAt)
	})

	t.Run("non-2xx is a hard failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()))
		conf := Config(Endpoints{TokenURL: server.URL}, ClientRegistration{ClientID: "c"}, "", nil)
		_, err := c.Refresh(context.Background(), conf, "rt", now)
		assert.ErrorContains(t, err, "401")
	})
}

func TestTokenSetFromOAuth2(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{"expires_in": float64(60)})
	assert.Equal(t, int64(1_000_000+60_000), TokenSetFromOAuth2(tok, now).ExpiresAt)

	tok = (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]interface{}{"expires_in": json.Number("30")})
	assert.Equal(t, int64(1_000_000+30_000), TokenSetFromOAuth2(tok, now).ExpiresAt)

	tok = &oauth2.Token{AccessToken: "a", Expiry: time.UnixMilli(5_000_000)}
	assert.Equal(t, int64(5_000_000), TokenSetFromOAuth2(tok, now).ExpiresAt)
}

func TestValidateRedirectURI(t *testing.T) {
	_, err := ValidateRedirectURI("http://localhost:3000/callback")
	assert.NoError(t, err)
	_, err = ValidateRedirectURI("http://127.0.0.1:0/callback")
	assert.NoError(t, err)

	for _, bad := range []string{"https://localhost:3000/cb", "http://example.com:3000/cb", "http://localhost/cb", "::"} {
		_, err := ValidateRedirectURI(bad)
		assert.Error(t, err, bad)
	}
}
