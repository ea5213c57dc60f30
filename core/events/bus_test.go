package events

import (
	"context"
	"errors"
	"math/big"
	"runtime"
	"testing"
	"time"

	"auctionchain/core/types"
	"auctionchain/crypto"
)

type recordingSink struct {
	got []Envelope
	err error
}

func (s *recordingSink) Record(_ context.Context, envs []Envelope) error {
	s.got = append(s.got, envs...)
	return s.err
}

func sampleEvents(n int) []*types.Event {
	out := make([]*types.Event, n)
	for i := range out {
		out[i] = &types.Event{Type: "auction.bid_placed", Attributes: map[string]string{"i": string(rune('a' + i))}}
	}
	return out
}

func TestBusAssignsSequencesAndFeedsSinks(t *testing.T) {
	bus := NewBus(8)
	bus.SetSequence(10)
	sink := &recordingSink{}
	bus.AddSink(sink)

	envs, err := bus.Publish(context.Background(), [32]byte{1}, 42, sampleEvents(2))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(envs) != 2 || envs[0].Sequence != 11 || envs[1].Sequence != 12 {
		t.Fatalf("unexpected sequences: %+v", envs)
	}
	if envs[1].Cursor != "12" || envs[0].Timestamp != 42 {
		t.Fatalf("unexpected envelope fields: %+v", envs[1])
	}
	if len(sink.got) != 2 {
		t.Fatalf("sink received %d envelopes", len(sink.got))
	}
	if bus.Sequence() != 12 {
		t.Fatalf("unexpected sequence %d", bus.Sequence())
	}
}

func TestBusSinkErrorIsReported(t *testing.T) {
	bus := NewBus(8)
	want := errors.New("disk full")
	bus.AddSink(&recordingSink{err: want})
	if _, err := bus.Publish(context.Background(), [32]byte{}, 1, sampleEvents(1)); !errors.Is(err, want) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestBusSubscribeBacklogAndLive(t *testing.T) {
	bus := NewBus(2)
	if _, err := bus.Publish(context.Background(), [32]byte{}, 1, sampleEvents(3)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	updates, cancel, backlog := bus.Subscribe(ctx, "2")
	defer cancel()
	if len(backlog) != 1 || backlog[0].Sequence != 3 {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}

	if _, err := bus.Publish(context.Background(), [32]byte{}, 2, sampleEvents(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	env := <-updates
	if env.Sequence != 4 {
		t.Fatalf("unexpected live envelope %+v", env)
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus(3)
	if _, err := bus.Publish(context.Background(), [32]byte{}, 1, sampleEvents(5)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	all := bus.History(0, 0)
	if len(all) != 3 || all[0].Sequence != 3 {
		t.Fatalf("unexpected retained history: %+v", all)
	}
	page := bus.History(3, 1)
	if len(page) != 1 || page[0].Sequence != 4 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := bus.History(5, 10); len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func TestBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus(0)
	_, cancel, _ := bus.Subscribe(context.Background(), "")
	defer cancel()
	if _, err := bus.Publish(context.Background(), [32]byte{}, 1, sampleEvents(subscriberBuffer+3)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if bus.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", bus.Dropped())
	}
}

func TestTransferEventAttributes(t *testing.T) {
	from := [20]byte{1}
	to := [20]byte{2}
	evt := Transfer{From: from, To: to, Amount: big.NewInt(500), Reason: "withdraw"}.Event()
	if evt.Type != TypeTransfer {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["from"] != crypto.FormatAddress(from) || evt.Attributes["to"] != crypto.FormatAddress(to) {
		t.Fatalf("unexpected addresses: %+v", evt.Attributes)
	}
	if evt.Attributes["amount"] != "500" || evt.Attributes["reason"] != "withdraw" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	rendered := Render(Transfer{From: from, To: to})
	if rendered.Attributes["amount"] != "0" {
		t.Fatalf("nil amount should render as zero")
	}
}

// subscribingSink opens a subscription while the bus is still publishing.
type subscribingSink struct {
	bus     *Bus
	updates <-chan Envelope
	cancel  func()
	backlog []Envelope
}

func (s *subscribingSink) Record(context.Context, []Envelope) error {
	if s.updates == nil {
		s.updates, s.cancel, s.backlog = s.bus.Subscribe(context.Background(), "0")
	}
	return nil
}

func TestBusSubscribeDuringPublishDeliversOnce(t *testing.T) {
	bus := NewBus(8)
	sink := &subscribingSink{bus: bus}
	bus.AddSink(sink)

	if _, err := bus.Publish(context.Background(), [32]byte{}, 1, sampleEvents(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	defer sink.cancel()

	seen := map[uint64]int{}
	for _, env := range sink.backlog {
		seen[env.Sequence]++
	}
	for drained := false; !drained; {
		select {
		case env := <-sink.updates:
			seen[env.Sequence]++
		default:
			drained = true
		}
	}
	if len(seen) != 1 || seen[1] != 1 {
		t.Fatalf("expected sequence 1 exactly once, got %v", seen)
	}
}

func TestBusCancelReleasesWatcher(t *testing.T) {
	bus := NewBus(8)
	baseline := runtime.NumGoroutine()

	cancels := make([]func(), 0, 20)
	for i := 0; i < 20; i++ {
		_, cancel, _ := bus.Subscribe(context.Background(), "")
		cancels = append(cancels, cancel)
	}
	for _, cancel := range cancels {
		cancel()
		cancel()
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("subscription watchers still running: %d > %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
