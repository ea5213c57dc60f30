package bank

import (
	"errors"
	"fmt"
	"math/big"

	"auctionchain/core/events"
	"auctionchain/core/types"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrReceiverRejected    = errors.New("bank: receiver rejected transfer")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	errNilState            = errors.New("bank: state not configured")
)

type bankState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// Receiver is invoked after funds land in a registered account. It runs
// synchronously on the caller's stack and may call back into other modules.
// Returning an error rejects the transfer; every change made since the
// transfer began, including those made by the receiver, is reverted.
type Receiver interface {
	Receive(from [20]byte, amount *big.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(from [20]byte, amount *big.Int) error

func (f ReceiverFunc) Receive(from [20]byte, amount *big.Int) error { return f(from, amount) }

// Bank moves native balances between accounts.
type Bank struct {
	state     bankState
	emitter   events.Emitter
	receivers map[[20]byte]Receiver
}

func New(state bankState) *Bank {
	return &Bank{
		state:     state,
		emitter:   events.NoopEmitter{},
		receivers: make(map[[20]byte]Receiver),
	}
}

// SetState configures the state backend used by the bank.
func (b *Bank) SetState(state bankState) { b.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// RegisterReceiver installs a hook for addr, replacing any existing one.
// Passing nil removes it.
func (b *Bank) RegisterReceiver(addr [20]byte, r Receiver) {
	if r == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = r
}

func (b *Bank) Balance(addr [20]byte) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	acc, err := b.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.EnsureBalance().Balance), nil
}

// Credit mints amount into addr. It is only used for genesis allocations.
func (b *Bank) Credit(addr [20]byte, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := b.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureBalance()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return b.state.PutAccount(addr[:], acc)
}

// Transfer moves amount from one account to another and then notifies the
// recipient's receiver, if any. The transfer is atomic: on any error no
// balance changes remain.
func (b *Bank) Transfer(from, to [20]byte, amount *big.Int, reason string) (err error) {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	snap := b.state.Snapshot()
	defer func() {
		if err != nil {
			b.state.RevertToSnapshot(snap)
		}
	}()

	if err := b.move(from, to, amount); err != nil {
		return err
	}
	b.emitter.Emit(events.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), Reason: reason})

	if r, ok := b.receivers[to]; ok {
		if rerr := r.Receive(from, new(big.Int).Set(amount)); rerr != nil {
			return fmt.Errorf("%w: %w", ErrReceiverRejected, rerr)
		}
	}
	return nil
}

func (b *Bank) move(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := b.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalance()
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromAcc.Balance, amount)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	if err := b.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	toAcc, err := b.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc = toAcc.EnsureBalance()
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	return b.state.PutAccount(to[:], toAcc)
}
