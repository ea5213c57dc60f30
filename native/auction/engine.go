package auction

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"auctionchain/core/events"
	"auctionchain/native/bank"
	"auctionchain/native/common"
)

// ModuleName identifies the auction for pause checks and logging.
const ModuleName = "auction"

var errNilState = errors.New("auction engine: state not configured")
var errNilBank = errors.New("auction engine: bank not configured")

type engineState interface {
	AuctionGet() (*Auction, bool, error)
	AuctionPut(*Auction) error
	AuctionRefundGet(addr [20]byte) (*big.Int, error)
	AuctionRefundPut(addr [20]byte, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
}

type ledger interface {
	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int, reason string) error
}

// Engine runs the auction state machine over external state, a bank and an
// event emitter. It is not safe for concurrent use; callers serialise access.
type Engine struct {
	state   engineState
	bank    ledger
	emitter events.Emitter
	nowFn   func() int64
	guard   common.ReentrancyGuard
}

// NewEngine creates an engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the ledger used for value transfers.
func (e *Engine) SetBank(b ledger) { e.bank = b }

// SetNowFunc overrides the time source used by the engine. Passing nil
// restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetReentrancyGuard toggles rejection of nested calls. The withdrawal and
// settlement ordering stays safe with the guard off.
func (e *Engine) SetReentrancyGuard(enabled bool) { e.guard.SetEnabled(enabled) }

// VaultAddress derives the account that escrows bids for an owner's auction.
func VaultAddress(owner [20]byte) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.CreateAddress(ethcommon.BytesToAddress(owner[:]), 0).Bytes())
	return out
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// execute runs fn as one all-or-nothing operation: nested entry is rejected
// and every state change and event is reverted if fn fails.
func (e *Engine) execute(fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	release, err := e.guard.Enter()
	if err != nil {
		return ErrReentrantCall
	}
	defer release()

	snap := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (e *Engine) load() (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, ok, err := e.state.AuctionGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	return a, nil
}

// IsPaused implements common.PauseView for the auction record.
func (a *Auction) IsPaused(module string) bool {
	return a != nil && module == ModuleName && a.Paused
}

// Deploy constructs the auction. The bidding window opens now and closes
// durationSeconds later.
func (e *Engine) Deploy(owner [20]byte, durationSeconds int64) (*Auction, error) {
	var deployed *Auction
	err := e.execute(func() error {
		if owner == ([20]byte{}) {
			return ErrInvalidCaller
		}
		if durationSeconds <= 0 {
			return ErrInvalidDuration
		}
		if _, ok, err := e.state.AuctionGet(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyDeployed
		}
		start := e.now()
		end := start + durationSeconds
		if start < 0 || end < start {
			return ErrInvalidDuration
		}
		a := &Auction{
			Address:       VaultAddress(owner),
			Owner:         owner,
			StartTime:     start,
			EndTime:       end,
			HighestBid:    big.NewInt(0),
			TotalAccepted: big.NewInt(0),
			TotalPaidOut:  big.NewInt(0),
			Outstanding:   big.NewInt(0),
		}
		if err := e.state.AuctionPut(a); err != nil {
			return err
		}
		e.emit(auctionEvent{evt: NewDeployedEvent(a)})
		deployed = a.Clone()
		return nil
	})
	return deployed, err
}

// PlaceBid accepts a bid of amount from caller. The previous leader's bid
// becomes withdrawable. A leader raising their own bid pays only the
// difference.
func (e *Engine) PlaceBid(caller [20]byte, amount *big.Int) error {
	return e.execute(func() error {
		a, err := e.load()
		if err != nil {
			return err
		}
		if err := common.Guard(a, ModuleName); err != nil {
			return ErrContractIsPaused
		}
		if e.now() >= a.EndTime {
			return ErrAuctionNotActive
		}
		if amount == nil || amount.Cmp(a.HighestBid) <= 0 {
			return ErrBidTooLow
		}
		if caller == ([20]byte{}) {
			return ErrInvalidCaller
		}
		if _, overflow := uint256.FromBig(amount); overflow {
			return ErrInvalidAmount
		}

		due := new(big.Int).Set(amount)
		switch {
		case a.HighestBidder == caller:
			due.Sub(due, a.HighestBid)
		case a.HasBidder():
			owed, err := e.state.AuctionRefundGet(a.HighestBidder)
			if err != nil {
				return err
			}
			owed.Add(owed, a.HighestBid)
			if err := e.state.AuctionRefundPut(a.HighestBidder, owed); err != nil {
				return err
			}
			a.Outstanding = new(big.Int).Add(a.Outstanding, a.HighestBid)
		}
		a.HighestBid = new(big.Int).Set(amount)
		a.HighestBidder = caller
		a.TotalAccepted = new(big.Int).Add(a.TotalAccepted, due)
		if err := e.state.AuctionPut(a); err != nil {
			return err
		}
		e.emit(auctionEvent{evt: NewBidPlacedEvent(caller, amount)})

		if err := e.bank.Transfer(caller, a.Address, due, "bid"); err != nil {
			if errors.Is(err, bank.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
			}
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	})
}

// Withdraw pays out the caller's ledger balance. The balance is cleared before
// the transfer so a recipient calling back in finds nothing left to take.
func (e *Engine) Withdraw(caller [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := e.execute(func() error {
		a, err := e.load()
		if err != nil {
			return err
		}
		if err := common.Guard(a, ModuleName); err != nil {
			return ErrContractIsPaused
		}
		amount, err := e.state.AuctionRefundGet(caller)
		if err != nil {
			return err
		}
		if amount.Sign() <= 0 {
			return ErrNoFundsToWithdraw
		}

		if err := e.state.AuctionRefundPut(caller, big.NewInt(0)); err != nil {
			return err
		}
		a.Outstanding = new(big.Int).Sub(a.Outstanding, amount)
		a.TotalPaidOut = new(big.Int).Add(a.TotalPaidOut, amount)
		if err := e.state.AuctionPut(a); err != nil {
			return err
		}

		if err := e.bank.Transfer(a.Address, caller, amount, "withdraw"); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		paid = amount
		return nil
	})
	return paid, err
}

// EndAuction settles the auction once the deadline has passed, paying the
// highest bid to the owner. Anyone may call it; pausing does not block it.
func (e *Engine) EndAuction(caller [20]byte) error {
	return e.execute(func() error {
		a, err := e.load()
		if err != nil {
			return err
		}
		if e.now() < a.EndTime {
			return ErrAuctionNotEnded
		}
		if a.Ended {
			return ErrAuctionAlreadyEnded
		}

		a.Ended = true
		payout := new(big.Int).Set(a.HighestBid)
		if payout.Sign() > 0 {
			a.TotalPaidOut = new(big.Int).Add(a.TotalPaidOut, payout)
		}
		if err := e.state.AuctionPut(a); err != nil {
			return err
		}
		e.emit(auctionEvent{evt: NewEndedEvent(a.HighestBidder, payout)})

		if payout.Sign() == 0 {
			return nil
		}
		if err := e.bank.Transfer(a.Address, a.Owner, payout, "settlement"); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	})
}

// Pause stops bidding and withdrawals. Only the owner may call it and the
// auction must not already be paused.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes bidding and withdrawals.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	return e.execute(func() error {
		a, err := e.load()
		if err != nil {
			return err
		}
		if caller != a.Owner {
			return ErrOnlyOwner
		}
		if a.Paused == paused {
			return ErrAlreadyInState
		}
		a.Paused = paused
		if err := e.state.AuctionPut(a); err != nil {
			return err
		}
		if paused {
			e.emit(auctionEvent{evt: NewPausedEvent(caller)})
		} else {
			e.emit(auctionEvent{evt: NewUnpausedEvent(caller)})
		}
		return nil
	})
}

// Status returns a snapshot of the public auction state.
func (e *Engine) Status() (Status, error) {
	a, err := e.load()
	if err != nil {
		return Status{}, err
	}
	return statusOf(a), nil
}

// RemainingTime returns the seconds left in the bidding window, never
// negative.
func (e *Engine) RemainingTime() (int64, error) {
	a, err := e.load()
	if err != nil {
		return 0, err
	}
	remaining := a.EndTime - e.now()
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// PendingReturn reports the withdrawable balance owed to addr.
func (e *Engine) PendingReturn(addr [20]byte) (*big.Int, error) {
	if _, err := e.load(); err != nil {
		return nil, err
	}
	return e.state.AuctionRefundGet(addr)
}

// Auction returns a copy of the full auction record.
func (e *Engine) Auction() (*Auction, error) {
	a, err := e.load()
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Audit checks that nothing was paid out beyond what was accepted and that
// the vault covers the outstanding refunds plus any unsettled bid.
func (e *Engine) Audit() error {
	a, err := e.load()
	if err != nil {
		return err
	}
	if e.bank == nil {
		return errNilBank
	}
	if a.TotalPaidOut.Cmp(a.TotalAccepted) > 0 {
		return fmt.Errorf("%w: paid out %s of %s accepted", ErrInsolvent, a.TotalPaidOut, a.TotalAccepted)
	}
	vault, err := e.bank.Balance(a.Address)
	if err != nil {
		return err
	}
	if held := a.Held(); vault.Cmp(held) < 0 {
		return fmt.Errorf("%w: vault holds %s, owes %s", ErrInsolvent, vault, held)
	}
	return nil
}
