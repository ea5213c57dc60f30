package auction

import (
	"math/big"
)

// Auction is the singleton record managed by the engine. Owner, StartTime and
// EndTime are fixed at deployment; the remaining fields change only through
// engine operations.
type Auction struct {
	// Address is the vault account that holds escrowed bids.
	Address       [20]byte
	Owner         [20]byte
	StartTime     int64
	EndTime       int64
	HighestBid    *big.Int
	HighestBidder [20]byte
	Ended         bool
	Paused        bool
	// TotalAccepted is the sum of every accepted bid value.
	TotalAccepted *big.Int
	// TotalPaidOut is the sum of withdrawals and the settlement payout.
	TotalPaidOut *big.Int
	// Outstanding is the sum of every ledger balance.
	Outstanding *big.Int
}

// Clone returns a deep copy of the auction so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.HighestBid = cloneBigInt(a.HighestBid)
	clone.TotalAccepted = cloneBigInt(a.TotalAccepted)
	clone.TotalPaidOut = cloneBigInt(a.TotalPaidOut)
	clone.Outstanding = cloneBigInt(a.Outstanding)
	return &clone
}

// HasBidder reports whether any bid has been accepted.
func (a *Auction) HasBidder() bool {
	return a != nil && a.HighestBidder != ([20]byte{})
}

// Held returns the value the vault is expected to hold: every ledger balance
// plus the pending winning amount while the auction is open.
func (a *Auction) Held() *big.Int {
	held := cloneBigInt(a.Outstanding)
	if !a.Ended {
		held.Add(held, cloneBigInt(a.HighestBid))
	}
	return held
}

// Status is the read-only snapshot returned to callers.
type Status struct {
	StartTime     int64
	EndTime       int64
	HighestBid    *big.Int
	HighestBidder [20]byte
	Ended         bool
	Paused        bool
}

func statusOf(a *Auction) Status {
	return Status{
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		HighestBid:    cloneBigInt(a.HighestBid),
		HighestBidder: a.HighestBidder,
		Ended:         a.Ended,
		Paused:        a.Paused,
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
