package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "trims whitespace",
			input:    []string{"  Build media relationships  ", "Pitch KTLA  "},
			expected: []string{"Build media relationships", "Pitch KTLA"},
		},
		{
			name:     "removes case-insensitive duplicates keeping first spelling",
			input:    []string{"AP News", "ap news", "MarketWatch", "AP NEWS"},
			expected: []string{"AP News", "MarketWatch"},
		},
		{
			name:     "removes blank entries",
			input:    []string{"Local news outlets", "", "   ", "Trade press"},
			expected: []string{"Local news outlets", "Trade press"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank(" \t\n"))
	assert.False(t, IsBlank(" Acme "))
}
