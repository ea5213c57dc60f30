package auction

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"auctionchain/core/events"
	"auctionchain/core/types"
	"auctionchain/native/bank"
	"auctionchain/native/common"
)

const (
	testStart    = int64(1_700_000_000)
	testDuration = int64(3600)
)

type mockSnapshot struct {
	auction  *Auction
	refunds  map[[20]byte]*big.Int
	accounts map[[20]byte]*types.Account
	logLen   int
}

type mockState struct {
	auction  *Auction
	refunds  map[[20]byte]*big.Int
	accounts map[[20]byte]*types.Account
	logs     []events.Event
	snaps    []mockSnapshot
}

func newMockState() *mockState {
	return &mockState{
		refunds:  make(map[[20]byte]*big.Int),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func toAddr(b []byte) [20]byte {
	var out [20]byte
	copy(out[:], b)
	return out
}

func (m *mockState) AuctionGet() (*Auction, bool, error) {
	if m.auction == nil {
		return nil, false, nil
	}
	return m.auction.Clone(), true, nil
}

func (m *mockState) AuctionPut(a *Auction) error {
	m.auction = a.Clone()
	return nil
}

func (m *mockState) AuctionRefundGet(addr [20]byte) (*big.Int, error) {
	return cloneBigInt(m.refunds[addr]), nil
}

func (m *mockState) AuctionRefundPut(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		delete(m.refunds, addr)
		return nil
	}
	m.refunds[addr] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	acc, ok := m.accounts[toAddr(addr)]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: acc.Nonce, Balance: cloneBigInt(acc.Balance)}, nil
}

func (m *mockState) PutAccount(addr []byte, acc *types.Account) error {
	m.accounts[toAddr(addr)] = &types.Account{Nonce: acc.Nonce, Balance: cloneBigInt(acc.Balance)}
	return nil
}

func (m *mockState) Emit(evt events.Event) { m.logs = append(m.logs, evt) }

func (m *mockState) Snapshot() int {
	snap := mockSnapshot{
		auction:  m.auction.Clone(),
		refunds:  make(map[[20]byte]*big.Int, len(m.refunds)),
		accounts: make(map[[20]byte]*types.Account, len(m.accounts)),
		logLen:   len(m.logs),
	}
	for k, v := range m.refunds {
		snap.refunds[k] = cloneBigInt(v)
	}
	for k, v := range m.accounts {
		snap.accounts[k] = &types.Account{Nonce: v.Nonce, Balance: cloneBigInt(v.Balance)}
	}
	m.snaps = append(m.snaps, snap)
	return len(m.snaps) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	snap := m.snaps[id]
	m.auction = snap.auction
	m.refunds = snap.refunds
	m.accounts = snap.accounts
	m.logs = m.logs[:snap.logLen]
	m.snaps = m.snaps[:id]
}

// fingerprint renders the full state deterministically for equality checks.
func (m *mockState) fingerprint() string {
	var buf strings.Builder
	if a := m.auction; a != nil {
		fmt.Fprintf(&buf, "auction %x %x %d %d %s %x %v %v %s %s %s\n", a.Address, a.Owner, a.StartTime, a.EndTime,
			a.HighestBid, a.HighestBidder, a.Ended, a.Paused, a.TotalAccepted, a.TotalPaidOut, a.Outstanding)
	}
	lines := make([]string, 0, len(m.refunds)+len(m.accounts))
	for k, v := range m.refunds {
		lines = append(lines, fmt.Sprintf("refund %x %s", k, v))
	}
	for k, v := range m.accounts {
		lines = append(lines, fmt.Sprintf("account %x %d %s", k, v.Nonce, v.Balance))
	}
	sort.Strings(lines)
	buf.WriteString(strings.Join(lines, "\n"))
	fmt.Fprintf(&buf, "\nlogs %d", len(m.logs))
	return buf.String()
}

func (m *mockState) eventTypes() []string {
	out := make([]string, 0, len(m.logs))
	for _, evt := range m.logs {
		out = append(out, evt.EventType())
	}
	return out
}

type testEnv struct {
	engine *Engine
	state  *mockState
	bank   *bank.Bank
	now    int64
	owner  [20]byte
	alice  [20]byte
	bob    [20]byte
	carol  [20]byte
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

// milli returns n thousandths of a whole coin (10^18 base units).
func milli(n int64) *big.Int {
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	return v.Mul(v, big.NewInt(n))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state: newMockState(),
		now:   testStart,
		owner: newTestAddress(0x01),
		alice: newTestAddress(0xA1),
		bob:   newTestAddress(0xB2),
		carol: newTestAddress(0xC3),
	}
	env.bank = bank.New(env.state)
	env.bank.SetEmitter(env.state)
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetBank(env.bank)
	env.engine.SetEmitter(env.state)
	env.engine.SetNowFunc(func() int64 { return env.now })
	for _, addr := range [][20]byte{env.alice, env.bob, env.carol} {
		if err := env.bank.Credit(addr, milli(10_000)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if _, err := env.engine.Deploy(env.owner, testDuration); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return env
}

func (env *testEnv) balance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := env.bank.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) pending(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	amt, err := env.engine.PendingReturn(addr)
	if err != nil {
		t.Fatalf("pending return: %v", err)
	}
	return amt
}

func (env *testEnv) status(t *testing.T) Status {
	t.Helper()
	st, err := env.engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return st
}

func (env *testEnv) audit(t *testing.T) {
	t.Helper()
	if err := env.engine.Audit(); err != nil {
		t.Fatalf("audit: %v", err)
	}
}

func requireErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestDeployValidation(t *testing.T) {
	engine := NewEngine()
	state := newMockState()
	engine.SetState(state)
	engine.SetBank(bank.New(state))
	engine.SetEmitter(state)
	engine.SetNowFunc(func() int64 { return testStart })
	owner := newTestAddress(0x01)

	_, err := engine.Status()
	requireErr(t, err, ErrNotDeployed)
	requireErr(t, engine.PlaceBid(owner, big.NewInt(1)), ErrNotDeployed)

	_, err = engine.Deploy(owner, 0)
	requireErr(t, err, ErrInvalidDuration)
	_, err = engine.Deploy(owner, -5)
	requireErr(t, err, ErrInvalidDuration)
	_, err = engine.Deploy([20]byte{}, testDuration)
	requireErr(t, err, ErrInvalidCaller)

	a, err := engine.Deploy(owner, testDuration)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if a.StartTime != testStart || a.EndTime != testStart+testDuration {
		t.Fatalf("unexpected window %d-%d", a.StartTime, a.EndTime)
	}
	if a.Address != VaultAddress(owner) || a.Address == owner {
		t.Fatalf("unexpected vault address %x", a.Address)
	}
	if a.HasBidder() || a.HighestBid.Sign() != 0 {
		t.Fatalf("expected empty auction")
	}
	_, err = engine.Deploy(owner, testDuration)
	requireErr(t, err, ErrAlreadyDeployed)
	if got := state.eventTypes(); len(got) != 1 || got[0] != EventTypeDeployed {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestOutbidBidderWithdraws(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(1000)); err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	if err := env.engine.PlaceBid(env.bob, milli(2000)); err != nil {
		t.Fatalf("bob bid: %v", err)
	}
	st := env.status(t)
	if st.HighestBid.Cmp(milli(2000)) != 0 || st.HighestBidder != env.bob {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := env.pending(t, env.alice); got.Cmp(milli(1000)) != 0 {
		t.Fatalf("alice pending %s", got)
	}
	if got := env.pending(t, env.bob); got.Sign() != 0 {
		t.Fatalf("current leader must not be in the ledger, got %s", got)
	}
	env.audit(t)

	before := env.balance(t, env.alice)
	paid, err := env.engine.Withdraw(env.alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(milli(1000)) != 0 {
		t.Fatalf("paid %s", paid)
	}
	if got := new(big.Int).Sub(env.balance(t, env.alice), before); got.Cmp(milli(1000)) != 0 {
		t.Fatalf("alice received %s", got)
	}
	if got := env.pending(t, env.alice); got.Sign() != 0 {
		t.Fatalf("ledger not cleared: %s", got)
	}
	_, err = env.engine.Withdraw(env.alice)
	requireErr(t, err, ErrNoFundsToWithdraw)
	env.audit(t)
}

func TestLowBidRejectedWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(100)); err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	before := env.state.fingerprint()
	requireErr(t, env.engine.PlaceBid(env.bob, milli(50)), ErrBidTooLow)
	requireErr(t, env.engine.PlaceBid(env.bob, milli(100)), ErrBidTooLow)
	requireErr(t, env.engine.PlaceBid(env.bob, big.NewInt(-1)), ErrBidTooLow)
	requireErr(t, env.engine.PlaceBid(env.bob, nil), ErrBidTooLow)
	if after := env.state.fingerprint(); after != before {
		t.Fatalf("rejected bids changed state:\nbefore %s\nafter  %s", before, after)
	}
	if st := env.status(t); st.HighestBid.Cmp(milli(100)) != 0 {
		t.Fatalf("highest bid changed to %s", st.HighestBid)
	}
}

func TestSettlementOnlyAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(1500)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	requireErr(t, env.engine.EndAuction(env.carol), ErrAuctionNotEnded)

	env.now = testStart + testDuration
	if remaining, _ := env.engine.RemainingTime(); remaining != 0 {
		t.Fatalf("remaining %d", remaining)
	}
	requireErr(t, env.engine.PlaceBid(env.bob, milli(2000)), ErrAuctionNotActive)

	ownerBefore := env.balance(t, env.owner)
	if err := env.engine.EndAuction(env.carol); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if !env.status(t).Ended {
		t.Fatalf("expected ended")
	}
	if got := new(big.Int).Sub(env.balance(t, env.owner), ownerBefore); got.Cmp(milli(1500)) != 0 {
		t.Fatalf("owner received %s", got)
	}

	requireErr(t, env.engine.EndAuction(env.owner), ErrAuctionAlreadyEnded)
	if got := new(big.Int).Sub(env.balance(t, env.owner), ownerBefore); got.Cmp(milli(1500)) != 0 {
		t.Fatalf("owner paid twice: %s", got)
	}
	st := env.status(t)
	if st.HighestBidder != env.alice || st.HighestBid.Cmp(milli(1500)) != 0 {
		t.Fatalf("settled state changed: %+v", st)
	}
	env.audit(t)
}

func TestPauseBlocksBiddingUntilUnpaused(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Pause(env.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := env.engine.PlaceBid(env.alice, milli(500))
	requireErr(t, err, ErrContractIsPaused)
	requireErr(t, err, common.ErrModulePaused)
	if err := env.engine.Unpause(env.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := env.engine.PlaceBid(env.alice, milli(500)); err != nil {
		t.Fatalf("bid after unpause: %v", err)
	}
	want := []string{EventTypeDeployed, EventTypePaused, EventTypeUnpaused, EventTypeBidPlaced, events.TypeTransfer}
	if got := env.state.eventTypes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSettlementWithoutBidsPaysNothing(t *testing.T) {
	env := newTestEnv(t)
	env.now = testStart + testDuration + 10
	ownerBefore := env.balance(t, env.owner)
	logsBefore := len(env.state.logs)
	if err := env.engine.EndAuction(env.alice); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	st := env.status(t)
	if !st.Ended || st.HighestBid.Sign() != 0 || st.HighestBidder != ([20]byte{}) {
		t.Fatalf("unexpected status %+v", st)
	}
	if env.balance(t, env.owner).Cmp(ownerBefore) != 0 {
		t.Fatalf("zero-bid settlement moved funds")
	}
	newLogs := env.state.logs[logsBefore:]
	if len(newLogs) != 1 || newLogs[0].EventType() != EventTypeEnded {
		t.Fatalf("expected only the ended event, got %v", env.state.eventTypes())
	}
	rendered := events.Render(newLogs[0])
	if rendered.Attributes["winner"] != "" || rendered.Attributes["amount"] != "0" {
		t.Fatalf("unexpected ended attributes %+v", rendered.Attributes)
	}
}

func TestOutbidBalancesAccumulate(t *testing.T) {
	env := newTestEnv(t)
	bids := []struct {
		who    [20]byte
		amount int64
	}{
		{env.alice, 100}, {env.bob, 200}, {env.alice, 300}, {env.bob, 400},
	}
	for _, b := range bids {
		if err := env.engine.PlaceBid(b.who, milli(b.amount)); err != nil {
			t.Fatalf("bid %d: %v", b.amount, err)
		}
	}
	if got := env.pending(t, env.alice); got.Cmp(milli(400)) != 0 {
		t.Fatalf("alice pending %s, want 0.4", got)
	}
	if got := env.pending(t, env.bob); got.Cmp(milli(200)) != 0 {
		t.Fatalf("bob pending %s, want 0.2", got)
	}
	a, _ := env.engine.Auction()
	if a.Outstanding.Cmp(milli(600)) != 0 || a.TotalAccepted.Cmp(milli(1000)) != 0 {
		t.Fatalf("unexpected totals outstanding=%s accepted=%s", a.Outstanding, a.TotalAccepted)
	}
	env.audit(t)
}

func TestSelfRebidChargesDifference(t *testing.T) {
	env := newTestEnv(t)
	start := env.balance(t, env.alice)
	if err := env.engine.PlaceBid(env.alice, milli(100)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := env.engine.PlaceBid(env.alice, milli(250)); err != nil {
		t.Fatalf("self re-bid: %v", err)
	}
	if got := env.pending(t, env.alice); got.Sign() != 0 {
		t.Fatalf("self re-bid credited the ledger: %s", got)
	}
	spent := new(big.Int).Sub(start, env.balance(t, env.alice))
	if spent.Cmp(milli(250)) != 0 {
		t.Fatalf("alice spent %s, want 0.25", spent)
	}
	env.audit(t)
}

func TestInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	before := env.state.fingerprint()
	err := env.engine.PlaceBid(env.alice, milli(20_000))
	requireErr(t, err, ErrInsufficientFunds)
	requireErr(t, err, bank.ErrInsufficientBalance)
	if after := env.state.fingerprint(); after != before {
		t.Fatalf("failed bid changed state")
	}

	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	requireErr(t, env.engine.PlaceBid(env.alice, tooLarge), ErrInvalidAmount)
	requireErr(t, env.engine.PlaceBid([20]byte{}, milli(1)), ErrInvalidCaller)
}

// hostileBidder re-enters Withdraw from its receive hook, like a contract
// fallback function would.
type hostileBidder struct {
	engine    *Engine
	addr      [20]byte
	propagate bool
	attempts  int
	nestedErr error
}

func (h *hostileBidder) Receive([20]byte, *big.Int) error {
	h.attempts++
	if h.attempts > 1 {
		return nil
	}
	_, err := h.engine.Withdraw(h.addr)
	h.nestedErr = err
	if h.propagate {
		return err
	}
	return nil
}

func TestWithdrawReentrancy(t *testing.T) {
	cases := []struct {
		name       string
		guard      bool
		propagate  bool
		nestedWant error
		outerWant  error
	}{
		{"guarded swallow", true, false, ErrReentrantCall, nil},
		{"unguarded swallow", false, false, ErrNoFundsToWithdraw, nil},
		{"guarded propagate", true, true, ErrReentrantCall, ErrTransferFailed},
		{"unguarded propagate", false, true, ErrNoFundsToWithdraw, ErrTransferFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.engine.SetReentrancyGuard(tc.guard)
			attacker := &hostileBidder{engine: env.engine, addr: env.alice, propagate: tc.propagate}
			env.bank.RegisterReceiver(env.alice, attacker)

			if err := env.engine.PlaceBid(env.alice, milli(1000)); err != nil {
				t.Fatalf("attacker bid: %v", err)
			}
			if err := env.engine.PlaceBid(env.bob, milli(2000)); err != nil {
				t.Fatalf("bob bid: %v", err)
			}
			before := env.balance(t, env.alice)
			vaultBefore := env.balance(t, VaultAddress(env.owner))

			_, err := env.engine.Withdraw(env.alice)
			requireErr(t, attacker.nestedErr, tc.nestedWant)
			received := new(big.Int).Sub(env.balance(t, env.alice), before)
			if tc.outerWant != nil {
				requireErr(t, err, tc.outerWant)
				if received.Sign() != 0 {
					t.Fatalf("failed withdrawal paid %s", received)
				}
				if got := env.pending(t, env.alice); got.Cmp(milli(1000)) != 0 {
					t.Fatalf("ledger not restored: %s", got)
				}
				if env.balance(t, VaultAddress(env.owner)).Cmp(vaultBefore) != 0 {
					t.Fatalf("vault changed after failed withdrawal")
				}
			} else {
				if err != nil {
					t.Fatalf("withdraw: %v", err)
				}
				if received.Cmp(milli(1000)) != 0 {
					t.Fatalf("attacker received %s, want exactly 1.0", received)
				}
				_, err := env.engine.Withdraw(env.alice)
				requireErr(t, err, ErrNoFundsToWithdraw)
			}
			if env.engine.guard.Busy() {
				t.Fatalf("guard left busy")
			}
			env.audit(t)
		})
	}
}

func TestSettlementPayoutFailureAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(700)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	env.now = testStart + testDuration
	refusal := errors.New("owner cannot receive")
	env.bank.RegisterReceiver(env.owner, bank.ReceiverFunc(func([20]byte, *big.Int) error { return refusal }))

	before := env.state.fingerprint()
	err := env.engine.EndAuction(env.bob)
	requireErr(t, err, ErrTransferFailed)
	requireErr(t, err, refusal)
	if env.status(t).Ended {
		t.Fatalf("auction marked ended without payout")
	}
	if after := env.state.fingerprint(); after != before {
		t.Fatalf("failed settlement changed state")
	}

	env.bank.RegisterReceiver(env.owner, nil)
	if err := env.engine.EndAuction(env.bob); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := env.balance(t, env.owner); got.Cmp(milli(700)) != 0 {
		t.Fatalf("owner balance %s", got)
	}
	env.audit(t)
}

func TestReentrantCallDuringSettlement(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(700)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := env.engine.PlaceBid(env.bob, milli(900)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	env.now = testStart + testDuration
	var nested []error
	env.bank.RegisterReceiver(env.owner, bank.ReceiverFunc(func([20]byte, *big.Int) error {
		nested = append(nested, env.engine.EndAuction(env.owner))
		_, werr := env.engine.Withdraw(env.alice)
		nested = append(nested, werr)
		return nil
	}))
	if err := env.engine.EndAuction(env.carol); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	for _, err := range nested {
		requireErr(t, err, ErrReentrantCall)
	}

	env2 := newTestEnv(t)
	env2.engine.SetReentrancyGuard(false)
	if err := env2.engine.PlaceBid(env2.alice, milli(700)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	env2.now = testStart + testDuration
	var nestedEnd error
	env2.bank.RegisterReceiver(env2.owner, bank.ReceiverFunc(func([20]byte, *big.Int) error {
		nestedEnd = env2.engine.EndAuction(env2.owner)
		return nil
	}))
	if err := env2.engine.EndAuction(env2.carol); err != nil {
		t.Fatalf("end auction: %v", err)
	}
	requireErr(t, nestedEnd, ErrAuctionAlreadyEnded)
	if got := env2.balance(t, env2.owner); got.Cmp(milli(700)) != 0 {
		t.Fatalf("owner paid %s, want exactly one payout", got)
	}
}

func TestPauseControl(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.PlaceBid(env.alice, milli(100)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := env.engine.PlaceBid(env.bob, milli(200)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	requireErr(t, env.engine.Pause(env.alice), ErrOnlyOwner)
	requireErr(t, env.engine.Unpause(env.owner), ErrAlreadyInState)
	if err := env.engine.Pause(env.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireErr(t, env.engine.Pause(env.owner), ErrAlreadyInState)
	requireErr(t, env.engine.Unpause(env.bob), ErrOnlyOwner)

	_, err := env.engine.Withdraw(env.alice)
	requireErr(t, err, ErrContractIsPaused)
	st := env.status(t)
	if !st.Paused {
		t.Fatalf("status should report paused")
	}
	if _, err := env.engine.RemainingTime(); err != nil {
		t.Fatalf("reads must work while paused: %v", err)
	}

	env.now = testStart + testDuration
	if err := env.engine.EndAuction(env.carol); err != nil {
		t.Fatalf("settlement must not be gated by pause: %v", err)
	}
	if err := env.engine.Unpause(env.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.engine.Withdraw(env.alice); err != nil {
		t.Fatalf("withdraw after unpause: %v", err)
	}
	env.audit(t)
}

func TestRemainingTimeNeverNegative(t *testing.T) {
	env := newTestEnv(t)
	env.now = testStart + 600
	if got, _ := env.engine.RemainingTime(); got != testDuration-600 {
		t.Fatalf("remaining %d", got)
	}
	env.now = testStart + testDuration*5
	if got, _ := env.engine.RemainingTime(); got != 0 {
		t.Fatalf("remaining %d after expiry", got)
	}
}

func TestRandomisedBiddingKeepsInvariants(t *testing.T) {
	env := newTestEnv(t)
	rng := rand.New(rand.NewSource(7))
	bidders := [][20]byte{env.alice, env.bob, env.carol}
	prevHighest := big.NewInt(0)

	for i := 0; i < 200; i++ {
		who := bidders[rng.Intn(len(bidders))]
		switch rng.Intn(3) {
		case 0, 1:
			amount := new(big.Int).Add(prevHighest, milli(int64(rng.Intn(20)-5)))
			before := env.state.fingerprint()
			if err := env.engine.PlaceBid(who, amount); err != nil {
				if after := env.state.fingerprint(); after != before {
					t.Fatalf("step %d: rejected bid (%v) changed state", i, err)
				}
			}
		case 2:
			_, _ = env.engine.Withdraw(who)
		}
		st := env.status(t)
		if st.HighestBid.Cmp(prevHighest) < 0 {
			t.Fatalf("step %d: highest bid decreased from %s to %s", i, prevHighest, st.HighestBid)
		}
		prevHighest = st.HighestBid
		env.audit(t)
	}

	env.now = testStart + testDuration
	if err := env.engine.EndAuction(env.owner); err != nil {
		t.Fatalf("end: %v", err)
	}
	for _, who := range bidders {
		_, _ = env.engine.Withdraw(who)
	}
	a, _ := env.engine.Auction()
	if a.TotalPaidOut.Cmp(a.TotalAccepted) != 0 {
		t.Fatalf("after full drain paid %s of %s", a.TotalPaidOut, a.TotalAccepted)
	}
	if vault := env.balance(t, a.Address); vault.Sign() != 0 {
		t.Fatalf("vault retains %s", vault)
	}
}
