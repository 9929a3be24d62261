// Package swap builds quote and execute payloads for the Euclid routing API
// and interprets its answers.
package swap

import (
	"fmt"
	"sort"
	"strings"
)

// TokenConfig describes how to route ETH into one target token.
type TokenConfig struct {
	Symbol           string   `yaml:"symbol"`
	ChainUID         string   `yaml:"chain_uid"`
	Route            []string `yaml:"route"`
	DefaultAmountOut string   `yaml:"default_amount_out"`
	AmountOutHops    []string `yaml:"amount_out_hops"`
	PriceImpact      string   `yaml:"price_impact"`
}

// Validate reports configuration that would produce a malformed payload.
func (t TokenConfig) Validate() error {
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("token symbol is required")
	case strings.TrimSpace(t.ChainUID) == "":
		return fmt.Errorf("token %s: chain_uid is required", t.Symbol)
	case len(t.Route) < 2:
		return fmt.Errorf("token %s: route needs at least two tokens", t.Symbol)
	case strings.TrimSpace(t.DefaultAmountOut) == "":
		return fmt.Errorf("token %s: default_amount_out is required", t.Symbol)
	}
	for i, hop := range t.Route {
		if strings.TrimSpace(hop) == "" {
			return fmt.Errorf("token %s: route[%d] is empty", t.Symbol, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t TokenConfig) Clone() TokenConfig {
	t.Route = append([]string(nil), t.Route...)
	t.AmountOutHops = append([]string(nil), t.AmountOutHops...)
	return t
}

// DefaultTokens returns the built-in EUCLID, ANDR and MON routes keyed by symbol.
func DefaultTokens() map[string]TokenConfig {
	return map[string]TokenConfig{
		"euclid": {
			Symbol:           "euclid",
			ChainUID:         "monad",
			Route:            []string{"eth", "usdc", "usdt", "andr", "euclid"},
			DefaultAmountOut: "338713",
			AmountOutHops:    []string{"usdc: {VALUE}", "usdt: {VALUE}", "andr: {VALUE}", "euclid: {VALUE}"},
			PriceImpact:      "29.58",
		},
		"andr": {
			Symbol:           "andr",
			ChainUID:         "andromeda",
			Route:            []string{"eth", "euclid", "usdc", "usdt", "andr"},
			DefaultAmountOut: "1000",
			AmountOutHops:    []string{"euclid: {VALUE}", "usdc: {VALUE}", "usdt: {VALUE}", "andr: {VALUE}"},
			PriceImpact:      "29.58",
		},
		"mon": {
			Symbol:           "mon",
			ChainUID:         "monad",
			Route:            []string{"eth", "sp500", "usdt", "euclid", "mon"},
			DefaultAmountOut: "7836729415067468",
			AmountOutHops:    []string{"sp500: {VALUE}", "usdt: {VALUE}", "euclid: {VALUE}", "mon: {VALUE}"},
			PriceImpact:      "34.80",
		},
	}
}

// Symbols returns the keys of tokens in sorted order.
func Symbols(tokens map[string]TokenConfig) []string {
	out := make([]string, 0, len(tokens))
	for k := range tokens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
