package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"switchboard/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/switchboard"
	configFileName = "switchboard.yaml"
)

// DefaultConfigPath returns ~/.config/switchboard/switchboard.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig reads and validates the configuration file at path. An empty
// path means the default location. A missing file yields an empty
// configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config found at %s, starting with no servers", path)
			return &Config{}, nil
		}
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	logging.Info("ConfigLoader", "Loaded %d server(s) from %s", len(cfg.Servers), path)
	return cfg, nil
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Transport == "" {
			if s.URL != "" {
				s.Transport = TransportStreamableHTTP
			} else {
				s.Transport = TransportStdio
			}
		}
		if s.Transport == "http" {
			s.Transport = TransportStreamableHTTP
		}
		if s.StartMode == "" {
			s.StartMode = StartModeLazy
		}
	}
}
