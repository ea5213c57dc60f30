package auction

import (
	"errors"
	"fmt"
	"testing"

	"auctionchain/native/bank"
)

func TestReason(t *testing.T) {
	cases := map[error]string{
		nil:                  "ok",
		ErrBidTooLow:         "bid_too_low",
		ErrContractIsPaused:  "paused",
		ErrReentrantCall:     "reentrant_call",
		errors.New("boom"):   "error",
		fmt.Errorf("%w: %w", ErrInsufficientFunds, bank.ErrInsufficientBalance): "insufficient_funds",
		fmt.Errorf("%w: %w", ErrTransferFailed, ErrReentrantCall):               "transfer_failed",
	}
	for err, want := range cases {
		if got := Reason(err); got != want {
			t.Fatalf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}
