package oauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	pkgoauth "switchboard/pkg/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_TokenRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	store, err := NewTokenStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	assert.Nil(t, store.LoadToken("github"))

	ts := &pkgoauth.TokenSet{AccessToken: "at", TokenType: "Bearer", RefreshToken: "rt", ExpiresAt: 1234}
	require.NoError(t, store.SaveToken("github", ts))

	path := filepath.Join(dir, "github.token.json")
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "at", fields["accessToken"])
	assert.Equal(t, "Bearer", fields["tokenType"])
	assert.Equal(t, "rt", fields["refreshToken"])
	assert.Equal(t, float64(1234), fields["expiresAt"])

	// A fresh store reads it back from disk.
	reopened, err := NewTokenStore(dir)
	require.NoError(t, err)
	assert.Equal(t, ts, reopened.LoadToken("github"))

	require.NoError(t, reopened.DeleteToken("github"))
	assert.Nil(t, reopened.LoadToken("github"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, reopened.DeleteToken("github"), "deleting twice is fine")
}

func TestTokenStore_Registration(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTokenStore(dir)
	require.NoError(t, err)

	assert.Nil(t, store.LoadRegistration("linear"))
	require.NoError(t, store.SaveRegistration("linear", &pkgoauth.ClientRegistration{ClientID: "cid", ClientSecret: "sec"}))

	reopened, err := NewTokenStore(dir)
	require.NoError(t, err)
	reg := reopened.LoadRegistration("linear")
	require.NotNil(t, reg)
	assert.Equal(t, "cid", reg.ClientID)
	assert.Equal(t, "sec", reg.ClientSecret)

	raw, err := os.ReadFile(filepath.Join(dir, "linear.client.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"clientId": "cid"`)
}

func TestTokenStore_CorruptFileIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.token.json"), []byte("{"), 0o600))

	store, err := NewTokenStore(dir)
	require.NoError(t, err)
	assert.Nil(t, store.LoadToken("bad"))
}
