package strings

import (
	"strings"
)

// DefaultDetailMaxLen is the default maximum length for error and detail
// columns in formatted output.
const DefaultDetailMaxLen = 60

// MinTruncateLen is the smallest accepted maxLen; anything shorter leaves
// no room for content plus "...".
const MinTruncateLen = 4

// TruncateDetail collapses a string to a single line of at most maxLen
// runes, appending "..." when it had to cut. Whitespace runs, including
// newlines, become single spaces.
func TruncateDetail(s string, maxLen int) string {
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
