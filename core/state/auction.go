package state

import (
	"fmt"
	"math/big"

	"auctionchain/native/auction"
)

var (
	auctionRecordKey    = []byte("auction/record")
	auctionRefundPrefix = []byte("auction/refund/")
)

type storedAuction struct {
	Address       [20]byte
	Owner         [20]byte
	StartTime     uint64
	EndTime       uint64
	HighestBid    *big.Int
	HighestBidder [20]byte
	Ended         bool
	Paused        bool
	TotalAccepted *big.Int
	TotalPaidOut  *big.Int
	Outstanding   *big.Int
}

func auctionRefundKey(addr [20]byte) []byte {
	buf := make([]byte, len(auctionRefundPrefix)+len(addr))
	copy(buf, auctionRefundPrefix)
	copy(buf[len(auctionRefundPrefix):], addr[:])
	return buf
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// AuctionPut stores the auction record.
func (m *Manager) AuctionPut(a *auction.Auction) error {
	if a == nil {
		return fmt.Errorf("auction: nil record")
	}
	if a.StartTime < 0 || a.EndTime < 0 {
		return fmt.Errorf("auction: negative timestamps are not supported")
	}
	return m.KVPut(auctionRecordKey, storedAuction{
		Address:       a.Address,
		Owner:         a.Owner,
		StartTime:     uint64(a.StartTime),
		EndTime:       uint64(a.EndTime),
		HighestBid:    nonNil(a.HighestBid),
		HighestBidder: a.HighestBidder,
		Ended:         a.Ended,
		Paused:        a.Paused,
		TotalAccepted: nonNil(a.TotalAccepted),
		TotalPaidOut:  nonNil(a.TotalPaidOut),
		Outstanding:   nonNil(a.Outstanding),
	})
}

// AuctionGet loads the auction record. The boolean is false before deployment.
func (m *Manager) AuctionGet() (*auction.Auction, bool, error) {
	var stored storedAuction
	ok, err := m.KVGet(auctionRecordKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &auction.Auction{
		Address:       stored.Address,
		Owner:         stored.Owner,
		StartTime:     int64(stored.StartTime),
		EndTime:       int64(stored.EndTime),
		HighestBid:    nonNil(stored.HighestBid),
		HighestBidder: stored.HighestBidder,
		Ended:         stored.Ended,
		Paused:        stored.Paused,
		TotalAccepted: nonNil(stored.TotalAccepted),
		TotalPaidOut:  nonNil(stored.TotalPaidOut),
		Outstanding:   nonNil(stored.Outstanding),
	}, true, nil
}

// AuctionRefundGet returns the withdrawable balance owed to addr.
func (m *Manager) AuctionRefundGet(addr [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(auctionRefundKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// AuctionRefundPut sets the balance owed to addr. A zero amount removes the
// entry so it reads the same as an address that never bid.
func (m *Manager) AuctionRefundPut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(auctionRefundKey(addr))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("auction: negative refund balance")
	}
	return m.KVPut(auctionRefundKey(addr), amount)
}
