package paraguay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseESNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.234.567,89", 1234567.89},
		{"1.234", 1.234}, // no decimal comma: treated as a plain float
		{"250000", 250000},
		{"0,5", 0.5},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := parseESNumber(tt.in)
		require.NoError(t, err, tt.in)
		require.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestParseESNumberRejectsGarbage(t *testing.T) {
	_, err := parseESNumber("n/a")
	require.Error(t, err)
}
