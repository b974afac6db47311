package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short", "Create issue", 20, "Create issue"},
		{"exact length", "hello", 5, "hello"},
		{"cut", "List repositories of the authenticated user", 15, "List reposit..."},
		{"multi-line tool description", "Search code.\n\nSupports   qualifiers.", 60, "Search code. Supports qualifiers."},
		{"runes", "héllo wörld", 8, "héllo..."},
		{"clamped", "abcdef", 1, "a..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateDescription(tt.input, tt.maxLen))
		})
	}
}
