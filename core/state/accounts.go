package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"auctionchain/core/types"
)

var accountPrefix = []byte("account:")

type storedAccount struct {
	Nonce   uint64
	Balance *uint256.Int
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

// GetAccount returns the account stored under addr, or a zero account when the
// address has never been written.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	if stored.Balance != nil {
		account.Balance = stored.Balance.ToBig()
	}
	return account, nil
}

// PutAccount persists the account. Balances must be non-negative and fit in
// 256 bits.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	account = account.EnsureBalance()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("account balance must not be negative")
	}
	balance, overflow := uint256.FromBig(account.Balance)
	if overflow {
		return fmt.Errorf("account balance exceeds 256 bits")
	}
	return m.KVPut(accountKey(addr), storedAccount{Nonce: account.Nonce, Balance: balance})
}
