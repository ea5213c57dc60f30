package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auctionchain/core/events"
	corestate "auctionchain/core/state"
	"auctionchain/core/types"
	"auctionchain/crypto"
	"auctionchain/native/auction"
	"auctionchain/native/bank"
	"auctionchain/observability"
	auctionotel "auctionchain/observability/otel"
	"auctionchain/storage"
)

var ErrNodeClosed = errors.New("core: node closed")

// Allocation credits an account when the auction is first deployed.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}

// Options configures a Node.
type Options struct {
	Owner                  [20]byte
	BiddingDuration        int64
	Allocations            []Allocation
	DisableReentrancyGuard bool
	Bus                    *events.Bus
	Logger                 *slog.Logger
	// Now overrides the wall clock; it returns unix seconds.
	Now func() int64
}

// Node owns the auction state and executes every call one at a time. Each
// mutating call either commits in full, publishing its events, or leaves no
// trace.
type Node struct {
	mu sync.Mutex
	// hooks counts receiver hooks running under mu. A call that finds mu
	// held while a hook runs is a re-entry and is rejected.
	hooks   atomic.Int32
	closed  bool
	db      storage.Database
	state   *corestate.Manager
	bank    *bank.Bank
	engine  *auction.Engine
	bus     *events.Bus
	nowFn   func() int64
	logger  *slog.Logger
	metrics *observability.AuctionMetrics
	tracer  trace.Tracer
}

// NewNode opens the auction stored in db, deploying it with the supplied
// options when the store is empty.
func NewNode(ctx context.Context, db storage.Database, opts Options) (*Node, error) {
	manager, err := corestate.NewManager(db)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		db:      db,
		state:   manager,
		bank:    bank.New(manager),
		engine:  auction.NewEngine(),
		bus:     opts.Bus,
		nowFn:   now,
		logger:  logger.With(slog.String("component", auction.ModuleName)),
		metrics: observability.Auction(),
		tracer:  auctionotel.Tracer("auctionchain/core"),
	}
	n.bank.SetEmitter(manager)
	n.engine.SetState(manager)
	n.engine.SetBank(n.bank)
	n.engine.SetEmitter(manager)
	n.engine.SetNowFunc(now)
	n.engine.SetReentrancyGuard(!opts.DisableReentrancyGuard)

	if _, deployed, err := manager.AuctionGet(); err != nil {
		return nil, err
	} else if !deployed {
		if err := n.genesis(ctx, opts); err != nil {
			return nil, err
		}
	}
	a, err := n.engine.Auction()
	if err != nil {
		return nil, err
	}
	n.metrics.SetBalances(a.HighestBid, a.Outstanding)
	n.logger.Info("auction ready",
		slog.String("address", crypto.FormatAddress(a.Address)),
		slog.String("owner", crypto.FormatAddress(a.Owner)),
		slog.Int64("endTime", a.EndTime),
		slog.String("root", fmt.Sprintf("%x", manager.Root())))
	return n, nil
}

func (n *Node) genesis(ctx context.Context, opts Options) error {
	for _, alloc := range opts.Allocations {
		if err := n.bank.Credit(alloc.Address, alloc.Amount); err != nil {
			n.state.Rollback()
			return fmt.Errorf("genesis allocation %s: %w", crypto.FormatAddress(alloc.Address), err)
		}
	}
	if _, err := n.engine.Deploy(opts.Owner, opts.BiddingDuration); err != nil {
		n.state.Rollback()
		return fmt.Errorf("deploy auction: %w", err)
	}
	return n.commit(ctx)
}

// commit persists pending changes and publishes their events. Callers hold mu.
func (n *Node) commit(ctx context.Context) error {
	root, logs, err := n.state.Commit()
	if err != nil {
		n.state.Rollback()
		return err
	}
	if len(logs) == 0 {
		return nil
	}
	rendered := make([]*types.Event, 0, len(logs))
	for _, evt := range logs {
		if r := events.Render(evt); r != nil {
			rendered = append(rendered, r)
			n.metrics.RecordEvent(r.Type)
		}
	}
	if n.bus == nil {
		return nil
	}
	if _, err := n.bus.Publish(ctx, root, n.nowFn(), rendered); err != nil {
		// State is already durable; a failing sink must not undo the call.
		n.logger.Error("event sink failed", slog.String("root", fmt.Sprintf("%x", root)), slog.Any("error", err))
	}
	return nil
}

// lock acquires mu, failing with auction.ErrReentrantCall instead of
// deadlocking when called from inside a receiver hook.
func (n *Node) lock() error {
	if n.mu.TryLock() {
		return nil
	}
	if n.hooks.Load() > 0 {
		return fmt.Errorf("%w: node is executing a receiver hook", auction.ErrReentrantCall)
	}
	n.mu.Lock()
	return nil
}

// apply runs one engine operation under the node lock and commits or rolls it
// back as a unit.
func (n *Node) apply(ctx context.Context, op string, caller [20]byte, fn func() error) error {
	if err := n.lock(); err != nil {
		return err
	}
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}

	ctx, span := n.tracer.Start(ctx, "auction."+op, trace.WithAttributes(
		attribute.String("auction.caller", crypto.FormatAddress(caller)),
	))
	defer span.End()

	if err := fn(); err != nil {
		n.state.Rollback()
		reason := auction.Reason(err)
		n.metrics.RecordOperation(op, reason)
		if reason == "transfer_failed" {
			n.metrics.RecordTransferFailure(op)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		n.logger.Warn("auction call rejected",
			slog.String("method", op),
			slog.String("caller", crypto.FormatAddress(caller)),
			slog.String("reason", reason),
			slog.Any("error", err))
		return err
	}
	if err := n.commit(ctx); err != nil {
		n.metrics.RecordOperation(op, "commit_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return err
	}
	n.metrics.RecordOperation(op, "ok")
	if a, err := n.engine.Auction(); err == nil {
		n.metrics.SetBalances(a.HighestBid, a.Outstanding)
	}
	n.logger.Info("auction call applied",
		slog.String("method", op),
		slog.String("caller", crypto.FormatAddress(caller)),
		slog.String("root", fmt.Sprintf("%x", n.state.Root())))
	return nil
}

// Authorize checks the call's signature and consumes its nonce. The nonce is
// persisted before the operation runs, so a rejected operation cannot be
// replayed either.
func (n *Node) Authorize(call Call) error {
	if err := call.verify(); err != nil {
		return err
	}
	if err := n.lock(); err != nil {
		return err
	}
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	acc, err := n.state.GetAccount(call.Caller[:])
	if err != nil {
		return err
	}
	if call.Nonce <= acc.Nonce {
		return fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, call.Nonce, acc.Nonce)
	}
	acc.Nonce = call.Nonce
	if err := n.state.PutAccount(call.Caller[:], acc); err != nil {
		n.state.Rollback()
		return err
	}
	return n.commit(context.Background())
}

func (n *Node) PlaceBid(ctx context.Context, caller [20]byte, amount *big.Int) error {
	return n.apply(ctx, "place_bid", caller, func() error {
		return n.engine.PlaceBid(caller, amount)
	})
}

func (n *Node) Withdraw(ctx context.Context, caller [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := n.apply(ctx, "withdraw", caller, func() error {
		amount, err := n.engine.Withdraw(caller)
		paid = amount
		return err
	})
	return paid, err
}

func (n *Node) EndAuction(ctx context.Context, caller [20]byte) error {
	return n.apply(ctx, "end_auction", caller, func() error {
		return n.engine.EndAuction(caller)
	})
}

func (n *Node) Pause(ctx context.Context, caller [20]byte) error {
	return n.apply(ctx, "pause", caller, func() error {
		return n.engine.Pause(caller)
	})
}

func (n *Node) Unpause(ctx context.Context, caller [20]byte) error {
	return n.apply(ctx, "unpause", caller, func() error {
		return n.engine.Unpause(caller)
	})
}

// RegisterReceiver installs a bank receiver hook for addr. Passing nil
// removes it. The hook runs inside the operation that pays addr; any Node
// call it makes fails with auction.ErrReentrantCall.
func (n *Node) RegisterReceiver(addr [20]byte, r bank.Receiver) error {
	if err := n.lock(); err != nil {
		return err
	}
	defer n.mu.Unlock()
	if r == nil {
		n.bank.RegisterReceiver(addr, nil)
		return nil
	}
	n.bank.RegisterReceiver(addr, hookReceiver{node: n, inner: r})
	return nil
}

type hookReceiver struct {
	node  *Node
	inner bank.Receiver
}

func (h hookReceiver) Receive(from [20]byte, amount *big.Int) error {
	h.node.hooks.Add(1)
	defer h.node.hooks.Add(-1)
	return h.inner.Receive(from, amount)
}

func (n *Node) Status() (auction.Status, error) {
	if err := n.lock(); err != nil {
		return auction.Status{}, err
	}
	defer n.mu.Unlock()
	return n.engine.Status()
}

func (n *Node) RemainingTime() (int64, error) {
	if err := n.lock(); err != nil {
		return 0, err
	}
	defer n.mu.Unlock()
	return n.engine.RemainingTime()
}

func (n *Node) PendingReturn(addr [20]byte) (*big.Int, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.mu.Unlock()
	return n.engine.PendingReturn(addr)
}

func (n *Node) Auction() (*auction.Auction, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.mu.Unlock()
	return n.engine.Auction()
}

func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	if err := n.lock(); err != nil {
		return nil, err
	}
	defer n.mu.Unlock()
	return n.bank.Balance(addr)
}

// Nonce returns the last nonce consumed by addr.
func (n *Node) Nonce(addr [20]byte) (uint64, error) {
	if err := n.lock(); err != nil {
		return 0, err
	}
	defer n.mu.Unlock()
	acc, err := n.state.GetAccount(addr[:])
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// Health audits escrow solvency.
func (n *Node) Health() error {
	if err := n.lock(); err != nil {
		return err
	}
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	return n.engine.Audit()
}

// Root returns the last committed state root, or the zero root when called
// from a receiver hook.
func (n *Node) Root() [32]byte {
	if err := n.lock(); err != nil {
		return [32]byte{}
	}
	defer n.mu.Unlock()
	return n.state.Root()
}

// Close releases the underlying database. Later calls fail with ErrNodeClosed.
// It is a no-op from inside a receiver hook.
func (n *Node) Close() {
	if err := n.lock(); err != nil {
		return
	}
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.db.Close()
}
