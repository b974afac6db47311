package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the description width in table output.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the smallest maxLen TruncateDescription honors.
const MinTruncateLen = 4

// TruncateDescription collapses whitespace (newlines included) into single
// spaces and cuts the result to maxLen runes, ending in "..." when cut.
// maxLen below MinTruncateLen is raised to it.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
