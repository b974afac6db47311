package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"
)

const (
	tokenFileSuffix        = ".token.json"
	registrationFileSuffix = ".client.json"
)

// TokenStore persists token sets and client registrations per server id.
//
// Files are written with 0600 permissions in a 0700 directory. Token values
// are never logged; audit lines carry only the server id.
type TokenStore struct {
	mu         sync.RWMutex
	storageDir string
	tokens     map[string]*pkgoauth.TokenSet
	regs       map[string]*pkgoauth.ClientRegistration
}

// NewTokenStore creates a store rooted at storageDir, defaulting to
// ~/.config/switchboard/tokens.
func NewTokenStore(storageDir string) (*TokenStore, error) {
	if storageDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		storageDir = filepath.Join(homeDir, pkgoauth.DefaultTokenStorageDir)
	}
	if err := os.MkdirAll(storageDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	return &TokenStore{
		storageDir: storageDir,
		tokens:     make(map[string]*pkgoauth.TokenSet),
		regs:       make(map[string]*pkgoauth.ClientRegistration),
	}, nil
}

// Dir returns the storage directory.
func (s *TokenStore) Dir() string {
	return s.storageDir
}

// LoadToken returns the token set for serverID from memory, else from disk.
// It returns nil when none is stored. Expiry is not checked here.
func (s *TokenStore) LoadToken(serverID string) *pkgoauth.TokenSet {
	s.mu.RLock()
	if ts, ok := s.tokens[serverID]; ok {
		s.mu.RUnlock()
		return ts
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tokens[serverID]; ok {
		return ts
	}

	var ts pkgoauth.TokenSet
	if err := s.readFile(serverID+tokenFileSuffix, &ts); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("TokenStore", "Ignoring unreadable token file for %s: %v", serverID, err)
		}
		return nil
	}
	s.tokens[serverID] = &ts
	return &ts
}

// SaveToken caches and persists the token set for serverID.
func (s *TokenStore) SaveToken(serverID string, ts *pkgoauth.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[serverID] = ts
	if err := s.writeFile(serverID+tokenFileSuffix, ts); err != nil {
		logging.Audit("token_store_failed", slog.String("server", serverID), slog.String("error", err.Error()))
		return fmt.Errorf("failed to persist token: %w", err)
	}
	logging.Audit("token_stored",
		slog.String("server", serverID),
		slog.Int64("expires_at", ts.ExpiresAt),
		slog.Bool("has_refresh_token", ts.RefreshToken != ""),
	)
	return nil
}

// DeleteToken removes the token set for serverID from memory and disk.
func (s *TokenStore) DeleteToken(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, serverID)
	if err := s.removeFile(serverID + tokenFileSuffix); err != nil {
		logging.Audit("token_delete_failed", slog.String("server", serverID), slog.String("error", err.Error()))
		return err
	}
	logging.Audit("token_deleted", slog.String("server", serverID))
	return nil
}

// LoadRegistration returns the persisted client registration, or nil.
func (s *TokenStore) LoadRegistration(serverID string) *pkgoauth.ClientRegistration {
	s.mu.RLock()
	if reg, ok := s.regs[serverID]; ok {
		s.mu.RUnlock()
		return reg
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.regs[serverID]; ok {
		return reg
	}

	var reg pkgoauth.ClientRegistration
	if err := s.readFile(serverID+registrationFileSuffix, &reg); err != nil || reg.ClientID == "" {
		return nil
	}
	s.regs[serverID] = &reg
	return &reg
}

// SaveRegistration caches and persists a client registration.
func (s *TokenStore) SaveRegistration(serverID string, reg *pkgoauth.ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[serverID] = reg
	if err := s.writeFile(serverID+registrationFileSuffix, reg); err != nil {
		return fmt.Errorf("failed to persist client registration: %w", err)
	}
	logging.Audit("client_registered",
		slog.String("server", serverID),
		slog.Bool("confidential", reg.ClientSecret != ""),
	)
	return nil
}

func (s *TokenStore) path(name string) string {
	return filepath.Join(s.storageDir, name)
}

func (s *TokenStore) readFile(name string, v interface{}) error {
	// #nosec G304 -- name is derived from a validated server id
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// writeFile writes through a temp file and rename so a crash never leaves
// a truncated token file behind.
func (s *TokenStore) writeFile(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.storageDir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(name))
}

func (s *TokenStore) removeFile(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
