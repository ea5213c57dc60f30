package auction

import (
	"errors"
	"fmt"

	"auctionchain/native/common"
)

var (
	ErrOnlyOwner           = errors.New("auction: caller is not the owner")
	ErrContractIsPaused    = fmt.Errorf("auction: contract is paused: %w", common.ErrModulePaused)
	ErrAuctionNotActive    = errors.New("auction: bidding window has closed")
	ErrBidTooLow           = errors.New("auction: bid must be higher than current highest bid")
	ErrNoFundsToWithdraw   = errors.New("auction: no funds to withdraw")
	ErrTransferFailed      = errors.New("auction: transfer failed")
	ErrAuctionNotEnded     = errors.New("auction: auction hasn't ended yet")
	ErrAuctionAlreadyEnded = errors.New("auction: auction has already been ended")
	ErrReentrantCall       = fmt.Errorf("auction: %w", common.ErrReentrantCall)
	ErrAlreadyInState      = errors.New("auction: already in requested pause state")
	ErrInvalidDuration     = errors.New("auction: bidding duration must be positive")
	ErrInvalidCaller       = errors.New("auction: caller address required")
	ErrInvalidAmount       = errors.New("auction: amount must be a positive 256-bit value")
	ErrInsufficientFunds   = errors.New("auction: insufficient funds for bid")
	ErrNotDeployed         = errors.New("auction: not deployed")
	ErrAlreadyDeployed     = errors.New("auction: already deployed")
)

// ErrInsolvent is reported by Audit when the vault cannot cover what the
// auction owes.
var ErrInsolvent = errors.New("auction: vault balance does not match obligations")

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrContractIsPaused, "paused"},
	{ErrOnlyOwner, "only_owner"},
	{ErrAuctionNotActive, "not_active"},
	{ErrBidTooLow, "bid_too_low"},
	{ErrNoFundsToWithdraw, "no_funds"},
	{ErrAuctionNotEnded, "not_ended"},
	{ErrAuctionAlreadyEnded, "already_ended"},
	{ErrAlreadyInState, "already_in_state"},
	{ErrInvalidDuration, "invalid_duration"},
	{ErrInvalidCaller, "invalid_caller"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrNotDeployed, "not_deployed"},
	{ErrAlreadyDeployed, "already_deployed"},
	{ErrInsolvent, "insolvent"},
}

// Reason returns a short stable label for err, suitable for metrics. Nil
// yields "ok" and unrecognised errors yield "error".
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "error"
}
