package secrets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// Vault defaults.
const (
	DefaultVaultPort    = 8200
	DefaultVaultScheme  = "https"
	DefaultVaultMount   = "secret"
	DefaultVaultHost    = "localhost"
	DefaultVaultTimeout = 5 * time.Second

	// defaultField is read when a vault placeholder names no field.
	defaultField = "value"
)

// ErrSecretNotFound is returned by a VaultReader when the path holds no secret.
var ErrSecretNotFound = errors.New("secret not found")

// VaultSettings decide whether and where the vault is consulted.
type VaultSettings struct {
	Enabled bool
	// Host is an explicit vault host. It may be a bare host name or a full
	// address with scheme and port.
	Host   string
	Port   int
	Scheme string
	Token  string
	Mount  string
	// CIDR selects the vault when no Host is set: the vault is tried only
	// if a local interface address falls inside it, and DefaultHost is used.
	CIDR        string
	DefaultHost string
	Timeout     time.Duration
}

func (v VaultSettings) withDefaults() VaultSettings {
	if v.Port == 0 {
		v.Port = DefaultVaultPort
	}
	if v.Scheme == "" {
		v.Scheme = DefaultVaultScheme
	}
	if v.Mount == "" {
		v.Mount = DefaultVaultMount
	}
	if v.DefaultHost == "" {
		v.DefaultHost = DefaultVaultHost
	}
	if v.Timeout == 0 {
		v.Timeout = DefaultVaultTimeout
	}
	v.Mount = strings.Trim(v.Mount, "/")
	return v
}

// Address returns the vault address to use, or false when the vault must
// not be tried at all. interfaceAddrs reports local network addresses.
func (v VaultSettings) Address(interfaceAddrs func() ([]net.Addr, error)) (string, bool) {
	if !v.Enabled {
		return "", false
	}
	v = v.withDefaults()

	if v.Host != "" {
		if strings.Contains(v.Host, "://") {
			return strings.TrimSuffix(v.Host, "/"), true
		}
		return v.join(v.Host), true
	}

	if v.CIDR == "" {
		return "", false
	}
	_, network, err := net.ParseCIDR(v.CIDR)
	if err != nil {
		return "", false
	}
	addrs, err := interfaceAddrs()
	if err != nil {
		return "", false
	}
	for _, a := range addrs {
		var ip net.IP
		switch t := a.(type) {
		case *net.IPNet:
			ip = t.IP
		case *net.IPAddr:
			ip = t.IP
		}
		if ip != nil && network.Contains(ip) {
			return v.join(v.DefaultHost), true
		}
	}
	return "", false
}

func (v VaultSettings) join(host string) string {
	return v.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(v.Port))
}

// VaultReader reads a KV version 2 secret.
type VaultReader interface {
	ReadKV(ctx context.Context, mount, path string) (map[string]interface{}, error)
}

// apiReader is a VaultReader on the official client.
type apiReader struct {
	client *vaultapi.Client
}

// NewVaultReader creates a reader for the vault at address.
func NewVaultReader(address, token string, timeout time.Duration) (VaultReader, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.Timeout = timeout
	cfg.MaxRetries = 0

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return &apiReader{client: client}, nil
}

func (r *apiReader) ReadKV(ctx context.Context, mount, path string) (map[string]interface{}, error) {
	secret, err := r.client.Logical().ReadWithContext(ctx, mount+"/data/"+strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSecretNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, ErrSecretNotFound
	}
	return data, nil
}

// splitVaultRef splits "path#field" into its parts.
func splitVaultRef(ref string) (path, field string) {
	path, field, _ = strings.Cut(ref, "#")
	return strings.Trim(path, "/"), field
}

// pickField selects the requested field, falling back to "value" or to the
// only field of a single-field secret.
func pickField(data map[string]interface{}, field string) (string, bool) {
	if field != "" {
		v, ok := data[field]
		return stringify(v), ok
	}
	if v, ok := data[defaultField]; ok {
		return stringify(v), true
	}
	if len(data) == 1 {
		for _, v := range data {
			return stringify(v), true
		}
	}
	return "", false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
