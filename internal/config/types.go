package config

import "time"

// Transport names accepted in server definitions.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Start modes. Lazy servers connect on first use, eager ones at startup.
const (
	StartModeLazy  = "lazy"
	StartModeEager = "eager"
)

// DefaultTokenEnv is the variable a stdio upstream receives its OAuth bearer
// token in when the definition does not name one.
const DefaultTokenEnv = "MCP_ACCESS_TOKEN"

// DefaultConnectTimeout bounds process start plus the initialize handshake.
const DefaultConnectTimeout = 30 * time.Second

// Config is the top-level configuration file.
type Config struct {
	Servers        []ServerDefinition `yaml:"servers"`
	Favorites      []ToolEntry        `yaml:"favorites,omitempty"`
	LegacyRegistry []ToolEntry        `yaml:"legacyRegistry,omitempty"`
}

// ServerDefinition describes one upstream. It is immutable after load.
type ServerDefinition struct {
	ID        string            `yaml:"id"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	StartMode string            `yaml:"startMode,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	OAuth     *OAuthSpec        `yaml:"oauth,omitempty"`
}

// IsEager reports whether the server connects at startup.
func (d ServerDefinition) IsEager() bool {
	return d.StartMode == StartModeEager
}

// ConnectTimeout returns the configured timeout or the default.
func (d ServerDefinition) ConnectTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultConnectTimeout
}

// OAuthSpec configures the authorization flow for an upstream. Every field
// is optional when it can be discovered or registered.
type OAuthSpec struct {
	AuthorizationURL string   `yaml:"authorizationURL,omitempty"`
	TokenURL         string   `yaml:"tokenURL,omitempty"`
	RegistrationURL  string   `yaml:"registrationURL,omitempty"`
	ClientID         string   `yaml:"clientID,omitempty"`
	ClientSecret     string   `yaml:"clientSecret,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
	RedirectURI      string   `yaml:"redirectURI,omitempty"`
	TokenEnv         string   `yaml:"tokenEnv,omitempty"`
}

// TokenEnvName returns the variable used to hand the token to a stdio upstream.
func (o *OAuthSpec) TokenEnvName() string {
	if o == nil || o.TokenEnv == "" {
		return DefaultTokenEnv
	}
	return o.TokenEnv
}

// ToolEntry is a static tool record: a favorite or a legacy registry entry.
type ToolEntry struct {
	Name        string `yaml:"name"`
	Server      string `yaml:"server"`
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Server returns the definition with the given id.
func (c *Config) Server(id string) (ServerDefinition, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerDefinition{}, false
}
