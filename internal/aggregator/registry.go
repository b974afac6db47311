package aggregator

import (
	"switchboard/internal/config"
)

// Registry is the static tool table: favorites first, then legacy entries.
// It is built once at startup and never connects anywhere.
type Registry struct {
	entries []ToolDescriptor
	byName  map[string]ToolDescriptor
}

// NewRegistry builds the table. When a name appears more than once the
// first entry wins, so favorites shadow legacy entries.
func NewRegistry(favorites, legacy []config.ToolEntry) *Registry {
	r := &Registry{byName: make(map[string]ToolDescriptor)}
	r.add(favorites, SourceFavorite)
	r.add(legacy, SourceLegacy)
	return r
}

func (r *Registry) add(entries []config.ToolEntry, source Source) {
	for _, e := range entries {
		if _, exists := r.byName[e.Name]; exists {
			continue
		}
		d := ToolDescriptor{
			Name:        e.Name,
			ServerID:    e.Server,
			Title:       e.Title,
			Description: e.Description,
			Source:      source,
		}
		r.entries = append(r.entries, d)
		r.byName[e.Name] = d
	}
}

// Entries returns the static descriptors in table order.
func (r *Registry) Entries() []ToolDescriptor {
	out := make([]ToolDescriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Favorites returns only the favorite entries.
func (r *Registry) Favorites() []ToolDescriptor {
	var out []ToolDescriptor
	for _, e := range r.entries {
		if e.Source == SourceFavorite {
			out = append(out, e)
		}
	}
	return out
}

// Lookup resolves a static tool name to its descriptor.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}
