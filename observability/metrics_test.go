package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuctionMetrics(t *testing.T) {
	m := Auction()
	if Auction() != m {
		t.Fatalf("expected singleton registry")
	}
	before := testutil.ToFloat64(m.operations.WithLabelValues("place_bid", "ok"))
	m.RecordOperation("place_bid", "")
	if got := testutil.ToFloat64(m.operations.WithLabelValues("place_bid", "ok")); got != before+1 {
		t.Fatalf("operations counter = %v, want %v", got, before+1)
	}

	m.SetBalances(big.NewInt(2500), big.NewInt(1000))
	if got := testutil.ToFloat64(m.highestBid); got != 2500 {
		t.Fatalf("highest bid gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.outstanding); got != 1000 {
		t.Fatalf("outstanding gauge = %v", got)
	}

	m.RecordTransferFailure("withdraw")
	if got := testutil.ToFloat64(m.transferFailures.WithLabelValues("withdraw")); got < 1 {
		t.Fatalf("transfer failures = %v", got)
	}
	m.RecordEvent("")
	m.RecordEvent("auction.bid_placed")
	if got := testutil.ToFloat64(m.events.WithLabelValues("auction.bid_placed")); got < 1 {
		t.Fatalf("events counter = %v", got)
	}

	var nilMetrics *AuctionMetrics
	nilMetrics.RecordOperation("x", "y")
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	m.Observe("auction", "auction_placeBid", 0, 10*time.Millisecond)
	m.Observe("auction", "auction_placeBid", -32033, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("auction", "auction_placeBid", "-32033")); got < 1 {
		t.Fatalf("errors counter = %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("auction", "auction_placeBid", "success")); got < 1 {
		t.Fatalf("requests counter = %v", got)
	}
	m.RecordThrottle("", "")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")); got < 1 {
		t.Fatalf("throttles counter = %v", got)
	}
}
