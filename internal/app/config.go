package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"switchboard/internal/aggregator"
	"switchboard/internal/config"
	"switchboard/internal/secrets"
	pkgoauth "switchboard/pkg/oauth"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every setting read from the environment:
// vault-host becomes SWITCHBOARD_VAULT_HOST.
const EnvPrefix = "SWITCHBOARD"

// Setting keys. Each is a flag name and, upper-cased with the prefix, an
// environment variable.
const (
	KeyConfig           = "config"
	KeyTransport        = "transport"
	KeyAddr             = "addr"
	KeyLogLevel         = "log-level"
	KeyDebug            = "debug"
	KeySecretsFile      = "secrets-file"
	KeyTokenDir         = "token-dir"
	KeyCallbackTimeout  = "callback-timeout"
	KeyVaultEnabled     = "vault-enabled"
	KeyVaultHost        = "vault-host"
	KeyVaultPort        = "vault-port"
	KeyVaultScheme      = "vault-scheme"
	KeyVaultToken       = "vault-token"
	KeyVaultMount       = "vault-mount"
	KeyVaultCIDR        = "vault-cidr"
	KeyVaultDefaultHost = "vault-default-host"
)

// DefaultAddr is the streamable-http listen address.
const DefaultAddr = "127.0.0.1:8765"

// Config holds the runtime settings of the broker process. The server
// definitions live in the file at ConfigPath.
type Config struct {
	ConfigPath      string
	Transport       string
	Addr            string
	LogLevel        string
	Debug           bool
	SecretsFile     string
	TokenDir        string
	CallbackTimeout time.Duration
	Vault           secrets.VaultSettings

	// File is the loaded configuration file.
	File *config.Config
}

// RegisterFlags adds the process-wide flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, "", "Path to switchboard.yaml (default ~/.config/switchboard/switchboard.yaml)")
	flags.String(KeyLogLevel, "info", "Log level: debug, info, warn, error")
	flags.Bool(KeyDebug, false, "Shorthand for --log-level=debug")
	flags.String(KeySecretsFile, "", "Secret override file (default ~/.config/switchboard/secrets.yaml)")
	flags.String(KeyTokenDir, "", "OAuth token directory (default ~/"+pkgoauth.DefaultTokenStorageDir+")")
	flags.Bool(KeyVaultEnabled, false, "Resolve ${vault:...} placeholders against a vault")
	flags.String(KeyVaultHost, "", "Explicit vault host or address")
	flags.Int(KeyVaultPort, secrets.DefaultVaultPort, "Vault port")
	flags.String(KeyVaultScheme, secrets.DefaultVaultScheme, "Vault scheme")
	flags.String(KeyVaultMount, secrets.DefaultVaultMount, "Vault KV v2 mount")
	flags.String(KeyVaultCIDR, "", "Use the vault only when a local address is inside this CIDR")
	flags.String(KeyVaultDefaultHost, secrets.DefaultVaultHost, "Vault host used when selected by CIDR")
}

// RegisterServeFlags adds the flags that only the serve command uses.
func RegisterServeFlags(flags *pflag.FlagSet) {
	flags.String(KeyTransport, aggregator.TransportStdio, "Client transport: stdio or streamable-http")
	flags.String(KeyAddr, DefaultAddr, "Listen address for streamable-http")
}

// RegisterAuthFlags adds the flags for interactive authorization.
func RegisterAuthFlags(flags *pflag.FlagSet) {
	flags.Duration(KeyCallbackTimeout, 5*time.Minute, "How long to wait for the browser callback")
}


// NewViper returns a viper instance reading SWITCHBOARD_* variables and
// bound to every flag in the given sets.
func NewViper(flagSets ...*pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTransport, aggregator.TransportStdio)
	v.SetDefault(KeyAddr, DefaultAddr)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCallbackTimeout, 5*time.Minute)
	v.SetDefault(KeyVaultPort, secrets.DefaultVaultPort)
	v.SetDefault(KeyVaultScheme, secrets.DefaultVaultScheme)
	v.SetDefault(KeyVaultMount, secrets.DefaultVaultMount)
	v.SetDefault(KeyVaultDefaultHost, secrets.DefaultVaultHost)
	// AutomaticEnv only answers for keys viper knows about.
	v.SetDefault(KeyVaultToken, "")

	for _, fs := range flagSets {
		if fs == nil {
			continue
		}
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}
	return v, nil
}

// ConfigFromViper builds the runtime Config, filling path defaults under
// the user's home directory. It does not load the configuration file.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ConfigPath:      strings.TrimSpace(v.GetString(KeyConfig)),
		Transport:       strings.TrimSpace(v.GetString(KeyTransport)),
		Addr:            strings.TrimSpace(v.GetString(KeyAddr)),
		LogLevel:        strings.TrimSpace(v.GetString(KeyLogLevel)),
		Debug:           v.GetBool(KeyDebug),
		SecretsFile:     strings.TrimSpace(v.GetString(KeySecretsFile)),
		TokenDir:        strings.TrimSpace(v.GetString(KeyTokenDir)),
		CallbackTimeout: v.GetDuration(KeyCallbackTimeout),
		Vault: secrets.VaultSettings{
			Enabled:     v.GetBool(KeyVaultEnabled),
			Host:        strings.TrimSpace(v.GetString(KeyVaultHost)),
			Port:        v.GetInt(KeyVaultPort),
			Scheme:      strings.TrimSpace(v.GetString(KeyVaultScheme)),
			Token:       strings.TrimSpace(v.GetString(KeyVaultToken)),
			Mount:       strings.TrimSpace(v.GetString(KeyVaultMount)),
			CIDR:        strings.TrimSpace(v.GetString(KeyVaultCIDR)),
			DefaultHost: strings.TrimSpace(v.GetString(KeyVaultDefaultHost)),
		},
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	var err error
	if cfg.ConfigPath == "" {
		if cfg.ConfigPath, err = config.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if cfg.SecretsFile == "" {
		if cfg.SecretsFile, err = homePath(".config", "switchboard", "secrets.yaml"); err != nil {
			return nil, err
		}
	}
	if cfg.TokenDir == "" {
		if cfg.TokenDir, err = homePath(pkgoauth.DefaultTokenStorageDir); err != nil {
			return nil, err
		}
	}

	cfg.ConfigPath = expandHome(cfg.ConfigPath)
	cfg.SecretsFile = expandHome(cfg.SecretsFile)
	cfg.TokenDir = expandHome(cfg.TokenDir)
	return cfg, nil
}

func homePath(elem ...string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
