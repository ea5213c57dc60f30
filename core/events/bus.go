package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"auctionchain/core/types"
)

const (
	defaultHistoryLimit = 1024
	subscriberBuffer    = 32
)

// Envelope is a committed event stamped with its position in the event log.
type Envelope struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Root       string            `json:"root"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneEnvelope(env Envelope) Envelope {
	cloned := env
	cloned.Attributes = make(map[string]string, len(env.Attributes))
	for k, v := range env.Attributes {
		cloned.Attributes[k] = v
	}
	return cloned
}

// Sink receives every published envelope synchronously, in order.
type Sink interface {
	Record(ctx context.Context, envs []Envelope) error
}

// Bus fans committed events out to sinks and live subscribers. Subscribers
// that fall behind lose envelopes rather than stall the publisher; they can
// resume from a cursor using the retained history.
type Bus struct {
	// publishMu orders whole publishes; mu guards the fields below.
	publishMu sync.Mutex
	mu        sync.Mutex
	seq     uint64
	history []Envelope
	limit   int
	subs    map[uint64]chan Envelope
	nextID  uint64
	sinks   []Sink
	dropped uint64
}

// NewBus creates a bus that retains up to historyLimit envelopes for replay.
func NewBus(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Bus{limit: historyLimit, subs: make(map[uint64]chan Envelope)}
}

// SetSequence resumes numbering after seq, typically restored from an indexer.
func (b *Bus) SetSequence(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.seq {
		b.seq = seq
	}
}

// Sequence reports the last assigned sequence number.
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Dropped reports how many envelopes slow subscribers failed to receive.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// AddSink registers a synchronous consumer.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish assigns sequence numbers to the events and hands them to every
// sink. Only then are they appended to history and broadcast to subscribers,
// in one critical section, so a subscriber sees each envelope either in its
// backlog or live, never both. The first sink error is returned after all
// sinks ran; subscribers are notified regardless.
func (b *Bus) Publish(ctx context.Context, root [32]byte, timestamp int64, evts []*types.Event) ([]Envelope, error) {
	if b == nil || len(evts) == 0 {
		return nil, nil
	}
	rootHex := fmt.Sprintf("0x%x", root[:])

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	envs := make([]Envelope, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		b.seq++
		envs = append(envs, cloneEnvelope(Envelope{
			Sequence:   b.seq,
			Cursor:     strconv.FormatUint(b.seq, 10),
			Type:       evt.Type,
			Attributes: evt.Attributes,
			Root:       rootHex,
			Timestamp:  timestamp,
		}))
	}
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Record(ctx, envs); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	b.mu.Lock()
	b.history = append(b.history, envs...)
	if len(b.history) > b.limit {
		excess := len(b.history) - b.limit
		trimmed := make([]Envelope, b.limit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	// Sends never block; the lock keeps cancel from closing a channel mid-send.
	for _, env := range envs {
		for _, ch := range b.subs {
			select {
			case ch <- cloneEnvelope(env):
			default:
				b.dropped++
			}
		}
	}
	b.mu.Unlock()
	return envs, firstErr
}

// History returns retained envelopes with a sequence greater than after, at
// most limit of them when limit is positive.
func (b *Bus) History(after uint64, limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Envelope, 0)
	for _, env := range b.history {
		if env.Sequence <= after {
			continue
		}
		out = append(out, cloneEnvelope(env))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe registers a live subscriber. Envelopes retained in history with a
// sequence greater than cursor are returned as backlog. The returned cancel
// function is safe to call more than once; the subscription also ends when ctx
// is done.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	backlog := make([]Envelope, 0, len(b.history))
	for _, env := range b.history {
		if env.Sequence > since {
			backlog = append(backlog, cloneEnvelope(env))
		}
	}
	b.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(updates)
			close(stop)
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-stop:
			}
		}()
	}
	return updates, cancel, backlog
}
