package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// parseAmount converts a human amount such as "1.25" into base units using
// the given number of decimals. Amounts that do not resolve to a whole
// number of base units are rejected.
func parseAmount(value string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	base := d.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	return base.BigInt(), nil
}

// formatAmount renders base units as a human amount.
func formatAmount(raw string, decimals int32) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return raw
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
