package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
servers:
  - id: github
    command: github-mcp
    args: [serve, --read-only]
    env:
      GITHUB_TOKEN: "${vault:github#token}"
  - id: linear
    url: https://mcp.linear.app/mcp
    startMode: eager
    timeout: 10s
    headers:
      X-Team: "${env:LINEAR_TEAM}"
    oauth:
      scopes: [read]
      redirectURI: http://localhost:3000/callback
favorites:
  - name: create_issue
    server: github
    title: Create issue
legacyRegistry:
  - name: list_repos
    server: github
    description: List repositories
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	gh, ok := cfg.Server("github")
	require.True(t, ok)
	assert.Equal(t, TransportStdio, gh.Transport)
	assert.Equal(t, StartModeLazy, gh.StartMode)
	assert.False(t, gh.IsEager())
	assert.Equal(t, DefaultConnectTimeout, gh.ConnectTimeout())
	assert.Equal(t, []string{"serve", "--read-only"}, gh.Args)
	assert.Equal(t, "${vault:github#token}", gh.Env["GITHUB_TOKEN"])

	ln, ok := cfg.Server("linear")
	require.True(t, ok)
	assert.Equal(t, TransportStreamableHTTP, ln.Transport)
	assert.True(t, ln.IsEager())
	assert.Equal(t, 10*time.Second, ln.ConnectTimeout())
	require.NotNil(t, ln.OAuth)
	assert.Equal(t, []string{"read"}, ln.OAuth.Scopes)
	assert.Equal(t, DefaultTokenEnv, ln.OAuth.TokenEnvName())

	assert.Equal(t, "Create issue", cfg.Favorites[0].Title)
	assert.Equal(t, "list_repos", cfg.LegacyRegistry[0].Name)

	_, ok = cfg.Server("missing")
	assert.False(t, ok)
}

func TestParse_HTTPAlias(t *testing.T) {
	cfg, err := Parse([]byte("servers:\n  - id: a\n    transport: http\n    url: http://x/mcp\n"))
	require.NoError(t, err)
	assert.Equal(t, TransportStreamableHTTP, cfg.Servers[0].Transport)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"missing id", "servers:\n  - command: x\n", "servers[0].id"},
		{"duplicate id", "servers:\n  - {id: a, command: x}\n  - {id: a, command: y}\n", "is duplicated"},
		{"stdio without command", "servers:\n  - {id: a, transport: stdio}\n", "servers[0].command"},
		{"http without url", "servers:\n  - {id: a, transport: streamable-http}\n", "servers[0].url"},
		{"unknown transport", "servers:\n  - {id: a, transport: sse, url: x}\n", "servers[0].transport"},
		{"bad start mode", "servers:\n  - {id: a, command: x, startMode: sometimes}\n", "startMode"},
		{"headers on stdio", "servers:\n  - {id: a, command: x, headers: {A: b}}\n", "servers[0].headers"},
		{"favorite unknown server", "servers:\n  - {id: a, command: x}\nfavorites:\n  - {name: t, server: b}\n", "favorites[0].server"},
		{"legacy duplicate", "servers:\n  - {id: a, command: x}\nlegacyRegistry:\n  - {name: t, server: a}\n  - {name: t, server: a}\n", "legacyRegistry[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			var verrs ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("servers: [\n"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields empty config", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Empty(t, cfg.Servers)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "switchboard.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Servers, 2)
	})

	t.Run("invalid file names path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("servers:\n  - id: a\n"), 0o600))

		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
	})
}
