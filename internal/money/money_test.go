package money

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	cases := []struct {
		name   string
		value  float64
		places int
		want   float64
	}{
		{"half up", 0.125, 2, 0.13},
		{"binary edge", 1.005, 2, 1.01},
		{"integer", 12.5, 0, 13},
		{"already rounded", 99.99, 2, 99.99},
		{"negative places", 7.6, -1, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Round(tc.value, tc.places), 1e-9)
		})
	}
}

func TestFormatUsesPolishDecimalComma(t *testing.T) {
	got := Format(12.5, "pln")
	assert.True(t, strings.HasPrefix(got, "12,50"), got)
	assert.True(t, strings.HasSuffix(got, " zł"), got)
}

func TestFormatUnknownCurrencyFallsBackToCode(t *testing.T) {
	got := Format(3, "XYZ")
	assert.True(t, strings.HasSuffix(got, " XYZ"), got)
}

func TestFormatNumberPlaces(t *testing.T) {
	assert.Equal(t, "3,142", FormatNumber(3.14159, 3))
	assert.Equal(t, "4", FormatNumber(3.6, 0))
}
