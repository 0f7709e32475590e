package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeKeepsEighteenDigits(t *testing.T) {
	d := decimal.RequireFromString("0.0000000000000000015")
	assert.True(t, Quantize(d).Equal(decimal.RequireFromString("0.000000000000000002")))

	// half-even: 0.5e-18 rounds to zero, 2.5e-18 rounds down to 2e-18
	assert.True(t, Quantize(decimal.RequireFromString("0.0000000000000000005")).IsZero())
	assert.True(t, Quantize(decimal.RequireFromString("0.0000000000000000025")).Equal(decimal.RequireFromString("0.000000000000000002")))
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 12.50 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = ParseAmount("twelve")
	assert.True(t, errors.Is(err, ErrMalformedAmount))
}

func TestNormalizeCurrency(t *testing.T) {
	for _, in := range []string{"HTG", "usd", " jmu ", "USDT"} {
		_, err := NormalizeCurrency(in)
		assert.NoError(t, err, in)
	}
	c, _ := NormalizeCurrency("HTG")
	assert.Equal(t, "htg", c)

	for _, in := range []string{"", "us", "dollars", "u$d", "12a"} {
		_, err := NormalizeCurrency(in)
		assert.True(t, errors.Is(err, ErrInvalidCurrency), in)
	}
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive(decimal.RequireFromString("0.000000000000000001")))
	assert.False(t, IsPositive(decimal.RequireFromString("0.0000000000000000001")))
	assert.False(t, IsPositive(decimal.NewFromInt(-3)))
}
