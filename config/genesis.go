package config

import (
	"fmt"
	"math/big"
	"strings"

	"auctionchain/crypto"
)

// ParsedAllocation is a genesis allocation resolved to raw values.
type ParsedAllocation struct {
	Address [20]byte
	Amount  *big.Int
}

// ParseAllocations resolves the configured genesis allocations. Duplicate
// addresses are rejected so the credited total is unambiguous.
func (g Genesis) ParseAllocations() ([]ParsedAllocation, error) {
	out := make([]ParsedAllocation, 0, len(g.Allocations))
	seen := make(map[[20]byte]struct{}, len(g.Allocations))
	for i, alloc := range g.Allocations {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis.Allocations[%d].Address: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis.Allocations[%d]: duplicate address %s", i, alloc.Address)
		}
		seen[addr] = struct{}{}
		amount, err := parseUintAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis.Allocations[%d].Amount: %w", i, err)
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("genesis.Allocations[%d].Amount: must be positive", i)
		}
		out = append(out, ParsedAllocation{Address: addr, Amount: amount})
	}
	return out, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
