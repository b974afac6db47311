package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks server definitions and tool entries. All problems are
// collected rather than stopping at the first.
func (c *Config) Validate() error {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i, s := range c.Servers {
		field := fmt.Sprintf("servers[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			errs.Add(field+".id", "is required")
			continue
		}
		if strings.ContainsAny(s.ID, " /\\") {
			errs.Add(field+".id", "cannot contain spaces or path separators", s.ID)
		}
		if seen[s.ID] {
			errs.Add(field+".id", "is duplicated", s.ID)
		}
		seen[s.ID] = true

		switch s.Transport {
		case TransportStdio:
			if s.Command == "" {
				errs.Add(field+".command", "is required for stdio transport")
			}
			if len(s.Headers) > 0 {
				errs.Add(field+".headers", "are only supported for streamable-http transport")
			}
		case TransportStreamableHTTP:
			if s.URL == "" {
				errs.Add(field+".url", "is required for streamable-http transport")
			}
		default:
			errs.Add(field+".transport", fmt.Sprintf("must be one of: %s, %s", TransportStdio, TransportStreamableHTTP), s.Transport)
		}

		if s.StartMode != StartModeLazy && s.StartMode != StartModeEager {
			errs.Add(field+".startMode", fmt.Sprintf("must be one of: %s, %s", StartModeLazy, StartModeEager), s.StartMode)
		}
	}

	validateEntries(&errs, "favorites", c.Favorites, seen)
	validateEntries(&errs, "legacyRegistry", c.LegacyRegistry, seen)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateEntries(errs *ValidationErrors, section string, entries []ToolEntry, servers map[string]bool) {
	names := make(map[string]bool)
	for i, e := range entries {
		field := fmt.Sprintf("%s[%d]", section, i)
		if e.Name == "" {
			errs.Add(field+".name", "is required")
		} else if names[e.Name] {
			errs.Add(field+".name", "is duplicated", e.Name)
		}
		names[e.Name] = true
		if !servers[e.Server] {
			errs.Add(field+".server", "does not reference a configured server", e.Server)
		}
	}
}
