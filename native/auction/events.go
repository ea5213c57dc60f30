package auction

import (
	"math/big"
	"strconv"

	"auctionchain/core/types"
	"auctionchain/crypto"
)

const (
	EventTypeDeployed  = "auction.deployed"
	EventTypeBidPlaced = "auction.bid_placed"
	EventTypeEnded     = "auction.ended"
	EventTypePaused    = "auction.paused"
	EventTypeUnpaused  = "auction.unpaused"
)

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// NewDeployedEvent describes the freshly constructed auction.
func NewDeployedEvent(a *Auction) *types.Event {
	return &types.Event{
		Type: EventTypeDeployed,
		Attributes: map[string]string{
			"address":   crypto.FormatAddress(a.Address),
			"owner":     crypto.FormatAddress(a.Owner),
			"startTime": strconv.FormatInt(a.StartTime, 10),
			"endTime":   strconv.FormatInt(a.EndTime, 10),
		},
	}
}

func NewBidPlacedEvent(bidder [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBidPlaced,
		Attributes: map[string]string{
			"bidder": crypto.FormatAddress(bidder),
			"amount": cloneBigInt(amount).String(),
		},
	}
}

// NewEndedEvent reports the settlement outcome. A zero-bid auction is reported
// with an empty winner.
func NewEndedEvent(winner [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{"amount": cloneBigInt(amount).String(), "winner": ""}
	if winner != ([20]byte{}) {
		attrs["winner"] = crypto.FormatAddress(winner)
	}
	return &types.Event{Type: EventTypeEnded, Attributes: attrs}
}

func NewPausedEvent(account [20]byte) *types.Event {
	return &types.Event{Type: EventTypePaused, Attributes: map[string]string{"account": crypto.FormatAddress(account)}}
}

func NewUnpausedEvent(account [20]byte) *types.Event {
	return &types.Event{Type: EventTypeUnpaused, Attributes: map[string]string{"account": crypto.FormatAddress(account)}}
}
