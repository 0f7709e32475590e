// Package money holds the decimal conventions shared by every ledger amount.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerPrecision is the number of fractional digits kept for every currency.
const LedgerPrecision int32 = 18

var (
	// ErrInvalidCurrency is returned for codes that are not 3-4 ASCII letters.
	ErrInvalidCurrency = errors.New("invalid currency code")
	// ErrMalformedAmount is returned when an amount string is not a decimal number.
	ErrMalformedAmount = errors.New("malformed amount")
)

// Quantize rounds d to LedgerPrecision digits using banker's rounding.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(LedgerPrecision)
}

// ParseAmount parses a decimal string and quantizes it.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	return Quantize(d), nil
}

// NormalizeCurrency lowercases and validates a currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if len(c) < 3 || len(c) > 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range c {
		if r < 'a' || r > 'z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return c, nil
}

// IsPositive reports whether d is strictly greater than zero once quantized.
func IsPositive(d decimal.Decimal) bool {
	return Quantize(d).IsPositive()
}
