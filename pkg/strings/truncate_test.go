package strings

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short message unchanged", input: "3 in queue", maxLen: 20, want: "3 in queue"},
		{name: "exact length unchanged", input: "ONLINE", maxLen: 6, want: "ONLINE"},
		{name: "long message cut", input: "partial listing with 12 records, finalization paused", maxLen: 20, want: "partial listing w..."},
		{name: "multi-line error flattened", input: "fetch failed:\n\tpage 2: EOF", maxLen: 80, want: "fetch failed: page 2: EOF"},
		{name: "tiny max is clamped", input: "session expired", maxLen: 1, want: "s..."},
		{name: "empty", input: "", maxLen: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestTruncate_CountsRunes(t *testing.T) {
	got := Truncate("João Conceição Araújo", 10)

	assert.Equal(t, "João Co...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))
}
