package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"$1,234.56", 1234.56},
		{"1234.56", 1234.56},
		{"$99", 99.0},
		{"US $129.99", 129.99},
		{"  $12,345,678.90 ", 12345678.90},
		{"49.", 49.0},
		{"$0.00", 0},
		{"0", 0},
		{"Free shipping", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ParsePrice(tt.input), 0.0001)
		})
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Tom & Jerry Box Set", CleanText("\n  Tom &amp; Jerry\t Box   Set \n"))
	assert.Equal(t, "", CleanText(" \n\t "))
}
