package types

import "math/big"

// Account is the native ledger entry for an address. Nonce guards signed
// calls against replay.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureBalance replaces a nil balance with zero and returns the account.
func (a *Account) EnsureBalance() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
