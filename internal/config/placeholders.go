package config

import (
	"regexp"
	"strings"
)

// Placeholder kinds.
const (
	KindEnv   = "env"
	KindVault = "vault"
)

var placeholderRegex = regexp.MustCompile(`\$\{(env|vault):([^}]+)\}`)

// Placeholder is one ${kind:ref} occurrence in a template string.
type Placeholder struct {
	Kind string
	Ref  string
}

// String returns the literal "kind:ref" form used as the lookup key.
func (p Placeholder) String() string {
	return p.Kind + ":" + p.Ref
}

// ParsePlaceholder parses "env:KEY", "vault:PATH" or the wrapped
// "${env:KEY}" form.
func ParsePlaceholder(s string) (Placeholder, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		s = s[2 : len(s)-1]
	}
	kind, ref, ok := strings.Cut(s, ":")
	if !ok || ref == "" {
		return Placeholder{}, false
	}
	if kind != KindEnv && kind != KindVault {
		return Placeholder{}, false
	}
	return Placeholder{Kind: kind, Ref: ref}, true
}

// Placeholders lists the placeholders in a template in order of appearance.
func Placeholders(template string) []Placeholder {
	var out []Placeholder
	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		out = append(out, Placeholder{Kind: m[1], Ref: m[2]})
	}
	return out
}

// Expand replaces every placeholder in template with resolve(placeholder).
// Text outside placeholders is kept as is. Expansion is purely syntactic;
// resolve decides where values come from.
func Expand(template string, resolve func(Placeholder) string) string {
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		m := placeholderRegex.FindStringSubmatch(match)
		return resolve(Placeholder{Kind: m[1], Ref: m[2]})
	})
}

// ExpandMap applies Expand to every value of m and returns a new map.
func ExpandMap(m map[string]string, resolve func(Placeholder) string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Expand(v, resolve)
	}
	return out
}
