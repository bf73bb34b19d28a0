// Package strings holds text helpers shared by the CLI renderers.
package strings

import (
	"strings"
)

// DefaultMessageMaxLen is the width heartbeat messages are cut to in tables.
const DefaultMessageMaxLen = 80

// MinTruncateLen is the smallest useful maxLen: one character plus "...".
const MinTruncateLen = 4

// Truncate collapses s onto a single line and cuts it to maxLen runes,
// ending with "..." when shortened. Smaller maxLen values are raised to
// MinTruncateLen.
func Truncate(s string, maxLen int) string {
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
