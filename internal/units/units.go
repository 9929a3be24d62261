// Package units converts between decimal ETH/gwei strings and wei.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	etherDecimals = 18
	gweiDecimals  = 9
)

// ParseEther parses a decimal ETH amount such as "0.001" into wei.
func ParseEther(s string) (*big.Int, error) {
	return parse(s, etherDecimals, "ETH")
}

// ParseGwei parses a decimal gwei amount such as "0.25" into wei.
func ParseGwei(s string) (*big.Int, error) {
	return parse(s, gweiDecimals, "gwei")
}

// FormatEther renders wei as a trimmed decimal ETH string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// FormatGwei renders wei as a trimmed decimal gwei string.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -gweiDecimals).String()
}

func parse(s string, decimals int32, unit string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty %s amount", unit)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s amount %q: %w", unit, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s amount %q is negative", unit, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s amount %q has more than %d decimals", unit, s, decimals)
	}
	return scaled.BigInt(), nil
}
