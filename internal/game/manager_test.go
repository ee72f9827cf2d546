package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/ledger"
	"wager/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	m      *Manager
	mem    *store.Memory
	ledger *ledger.Ledger
	rec    *recorder
}

func newHarness(t *testing.T, cfg Config, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	mem := store.NewMemory()
	var s store.Store = mem
	if wrap != nil {
		s = wrap(mem)
	}
	l := ledger.New(s, zap.NewNop())
	rec := &recorder{}
	m := NewManager(cfg, s, l, rec, zap.NewNop())
	// Tests drive the handlers directly, as the loop would while leading.
	m.leading.Store(true)
	return &harness{
		m:      m,
		mem:    mem,
		ledger: l,
		rec:    rec,
	}
}

func (h *harness) fund(t *testing.T, user, amount string) {
	t.Helper()
	_, err := h.ledger.Adjust(context.Background(), user, dec(amount), "seed")
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	b, err := h.mem.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func (h *harness) crashBet(t *testing.T, roundID, user string) *domain.CrashBet {
	t.Helper()
	bets, err := h.mem.CrashBets(context.Background(), roundID)
	require.NoError(t, err)
	for _, b := range bets {
		if b.UserID == user {
			return b
		}
	}
	t.Fatalf("no crash bet for %s in round %s", user, roundID)
	return nil
}

// openBetting drives the manager straight into the betting phase of a new round.
func (h *harness) openBetting(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.m.openRound(ctx))
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseBetting))
	return h.m.round.ID
}

func (h *harness) bet(t *testing.T, user, stake string, auto *decimal.Decimal) *CrashPlacement {
	t.Helper()
	p, err := h.m.handleBet(context.Background(), CrashBetRequest{UserID: user, Stake: dec(stake), AutoCashOutAt: auto})
	require.NoError(t, err)
	return p
}

// seedsFor finds a server seed and salt whose crash point lies in [min, max].
func seedsFor(t *testing.T, min, max, instantEvery int64) (string, string) {
	t.Helper()
	seed := "fixed-server-seed"
	for i := 0; i < 100000; i++ {
		salt := fmt.Sprintf("salt-%d", i)
		if c := CrashPointCents(seed, salt, instantEvery); c >= min && c <= max {
			return seed, salt
		}
	}
	t.Fatalf("no salt found for crash point in [%d, %d]", min, max)
	return "", ""
}

func fixedSeeds(values ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(values) == 0 {
			return GenerateSeed()
		}
		v := values[0]
		values = values[1:]
		return v, nil
	}
}

func TestStateBeforeFirstRound(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	s := h.m.State()
	assert.Equal(t, domain.PhaseWaiting, s.Phase)
	assert.True(t, s.Multiplier.Equal(domain.MinMultiplier))
}

func TestOpenRoundCommitsToCrashPoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.m.newSeed = fixedSeeds("server", "salt")

	require.NoError(t, h.m.openRound(ctx))
	r, err := h.mem.CrashRound(ctx, h.m.round.ID)
	require.NoError(t, err)

	assert.Equal(t, HashCommitment("server"), r.PublicHash)
	assert.True(t, r.CrashMultiplier.Equal(CrashPoint("server", "salt", DefaultInstantCrashEvery)))
	assert.Equal(t, int64(1), r.Nonce)
	_, revealed := r.Reveal()
	assert.False(t, revealed)

	s := h.m.State()
	assert.Equal(t, r.PublicHash, s.PublicHash)
	assert.Nil(t, s.Reveal)
	assert.Equal(t, []string{EventState}, h.rec.names())
}

func TestAutoCashOutBeatsCrashOnSameTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	h.fund(t, "u2", "100")
	roundID := h.openBetting(t)

	h.bet(t, "u1", "10", decPtr("2.00"))
	h.bet(t, "u2", "10", nil)
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))
	h.m.crashCents = 200

	assert.False(t, h.m.tick(ctx, 150))
	assert.True(t, h.m.tick(ctx, 200))
	require.NoError(t, h.m.crash(ctx))

	won := h.crashBet(t, roundID, "u1")
	assert.Equal(t, domain.BetWon, won.Status)
	assert.Equal(t, "20.00", won.Payout.StringFixed(2))
	assert.Equal(t, "2.00", won.CashOutAt.StringFixed(2))
	assert.True(t, h.balance(t, "u1").Equal(dec("110")))

	lost := h.crashBet(t, roundID, "u2")
	assert.Equal(t, domain.BetLost, lost.Status)
	assert.True(t, h.balance(t, "u2").Equal(dec("90")))

	events := h.rec.names()
	assert.Less(t, indexOf(events, EventCashedOut), indexOf(events, EventCrash))
}

func TestAutoCashOutAboveCrashPointLoses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)

	h.bet(t, "u1", "10", decPtr("2.00"))
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))
	h.m.crashCents = 150

	assert.True(t, h.m.tick(ctx, 300))
	assert.Equal(t, int64(150), h.m.current)
	require.NoError(t, h.m.crash(ctx))

	assert.Equal(t, domain.BetLost, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("90")))
}

func TestInstantCrashPaysNoAutoCashOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)

	h.bet(t, "u1", "10", decPtr("1.01"))
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))
	h.m.crashCents = 100

	assert.True(t, h.m.tick(ctx, 100))
	require.NoError(t, h.m.crash(ctx))
	assert.Equal(t, domain.BetLost, h.crashBet(t, roundID, "u1").Status)
}

func TestManualCashOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)
	h.bet(t, "u1", "10", nil)

	_, err := h.m.handleCashOut(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)

	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))
	h.m.crashCents = 1000
	assert.False(t, h.m.tick(ctx, 137))

	res, err := h.m.handleCashOut(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "1.37", res.Multiplier.StringFixed(2))
	assert.Equal(t, "13.70", res.Payout.StringFixed(2))
	assert.True(t, res.WalletBalance.Equal(dec("103.70")))
	assert.Equal(t, domain.BetWon, res.Bet.Status)

	_, err = h.m.handleCashOut(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNoPendingBet)

	_, err = h.m.handleCashOut(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNoPendingBet)

	assert.True(t, h.m.tick(ctx, 1000))
	require.NoError(t, h.m.crash(ctx))
	assert.Equal(t, domain.BetWon, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("103.70")))
}

func TestCashOutAfterResolutionIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)
	h.bet(t, "u1", "10", nil)
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))

	// Resolve the row behind the engine's back; the engine must not pay twice.
	require.NoError(t, h.mem.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.LoseCrashBets(ctx, roundID, time.Now())
		return err
	}))

	_, err := h.m.handleCashOut(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrBetResolved)
	assert.True(t, h.balance(t, "u1").Equal(dec("90")))
	assert.Empty(t, h.m.pending)
}

func TestCrashBetRules(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MinStake = dec("1")
	cfg.MaxStake = dec("500")
	h := newHarness(t, cfg, nil)
	h.fund(t, "u1", "100")
	h.fund(t, "poor", "5")

	require.NoError(t, h.m.openRound(ctx))
	_, err := h.m.handleBet(ctx, CrashBetRequest{UserID: "u1", Stake: dec("10")})
	assert.ErrorIs(t, err, domain.ErrPhaseClosed, "no bets while waiting")

	require.NoError(t, h.m.setPhase(ctx, domain.PhaseBetting))
	h.bet(t, "u1", "10", nil)

	_, err = h.m.handleBet(ctx, CrashBetRequest{UserID: "u1", Stake: dec("10")})
	assert.ErrorIs(t, err, domain.ErrBetAlreadyPlaced)
	assert.True(t, h.balance(t, "u1").Equal(dec("90")))

	_, err = h.m.handleBet(ctx, CrashBetRequest{UserID: "poor", Stake: dec("10")})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, h.balance(t, "poor").Equal(dec("5")))
	bets, _ := h.mem.CrashBets(ctx, h.m.round.ID)
	assert.Len(t, bets, 1)

	cases := []struct {
		name string
		req  CrashBetRequest
	}{
		{"missing user", CrashBetRequest{Stake: dec("10")}},
		{"zero stake", CrashBetRequest{UserID: "u3", Stake: decimal.Zero}},
		{"below min stake", CrashBetRequest{UserID: "u3", Stake: dec("0.5")}},
		{"above max stake", CrashBetRequest{UserID: "u3", Stake: dec("501")}},
		{"auto cash-out at 1.00", CrashBetRequest{UserID: "u3", Stake: dec("10"), AutoCashOutAt: decPtr("1.00")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.m.PlaceCrashBet(ctx, tc.req)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestAbortRefundsPendingBets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	h.fund(t, "u2", "100")
	roundID := h.openBetting(t)
	h.bet(t, "u1", "10", nil)
	h.bet(t, "u2", "25", decPtr("3"))
	require.NoError(t, h.m.setPhase(ctx, domain.PhaseRunning))

	h.m.abortCurrent(errors.New("boom"))

	for _, u := range []string{"u1", "u2"} {
		assert.Equal(t, domain.BetCancelled, h.crashBet(t, roundID, u).Status)
		assert.True(t, h.balance(t, u).Equal(dec("100")))
	}
	r, err := h.mem.CrashRound(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCrashed, r.Phase)
	assert.Nil(t, h.m.round)

	open, _ := h.mem.OpenCrashRounds(ctx)
	assert.Empty(t, open)
}

func TestRecoverOpenRounds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)
	h.bet(t, "u1", "40", nil)

	// A restarted process sees the round still open.
	next := NewManager(DefaultConfig(), h.mem, h.ledger, nil, zap.NewNop())
	next.recoverOpenRounds(ctx)

	assert.Equal(t, domain.BetCancelled, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("100")))
	assert.Equal(t, int64(1), next.nonce)

	history, err := next.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, next.Verify(history[0]))
}

func TestRunPlaysFullRound(t *testing.T) {
	cfg := Config{
		WaitingDuration:   20 * time.Millisecond,
		BettingDuration:   300 * time.Millisecond,
		TickInterval:      5 * time.Millisecond,
		RetryBackoff:      20 * time.Millisecond,
		GrowthRate:        3,
		InstantCrashEvery: 0,
	}
	h := newHarness(t, cfg, nil)
	seed, salt := seedsFor(t, 150, 400, 0)
	h.m.newSeed = fixedSeeds(seed, salt)
	h.fund(t, "u1", "100")
	h.fund(t, "u2", "100")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.m.State().Phase == domain.PhaseBetting
	}, 2*time.Second, time.Millisecond)
	roundID := h.m.State().RoundID

	p, err := h.m.PlaceCrashBet(ctx, CrashBetRequest{UserID: "u1", Stake: dec("10"), AutoCashOutAt: decPtr("1.2")})
	require.NoError(t, err)
	assert.True(t, p.WalletBalance.Equal(dec("90")))
	_, err = h.m.PlaceCrashBet(ctx, CrashBetRequest{UserID: "u2", Stake: dec("10")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := h.mem.CrashRound(context.Background(), roundID)
		return err == nil && r.Phase == domain.PhaseCrashed
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.BetWon, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("102")))
	assert.Equal(t, domain.BetLost, h.crashBet(t, roundID, "u2").Status)
	assert.True(t, h.balance(t, "u2").Equal(dec("90")))

	r, err := h.mem.CrashRound(context.Background(), roundID)
	require.NoError(t, err)
	reveal, ok := r.Reveal()
	require.True(t, ok)
	assert.Equal(t, seed, reveal.ServerSeed)
	assert.True(t, h.m.Verify(reveal))

	_, err = h.m.CashOut(ctx, "u1")
	assert.Error(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}

	_, err = h.m.PlaceCrashBet(context.Background(), CrashBetRequest{UserID: "u1", Stake: dec("1")})
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)

	events := h.rec.names()
	assert.Contains(t, events, EventTick)
	assert.Contains(t, events, EventBetPlaced)
	assert.Contains(t, events, EventCashedOut)
	assert.Contains(t, events, EventCrash)
}

// brokenRounds fails the first n round updates.
type brokenRounds struct {
	store.Store
	fails atomic.Int32
}

func (b *brokenRounds) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return b.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&brokenRoundsTx{Tx: tx, parent: b})
	})
}

type brokenRoundsTx struct {
	store.Tx
	parent *brokenRounds
}

func (t *brokenRoundsTx) UpdateCrashRound(ctx context.Context, r *domain.CrashRound, from domain.RoundPhase) (bool, error) {
	if t.parent.fails.Add(-1) >= 0 {
		return false, domain.Storage(errors.New("write timeout"))
	}
	return t.Tx.UpdateCrashRound(ctx, r, from)
}

func TestRunRecoversFromFailedCycle(t *testing.T) {
	cfg := Config{
		WaitingDuration: 10 * time.Millisecond,
		BettingDuration: time.Second,
		TickInterval:    5 * time.Millisecond,
		RetryBackoff:    10 * time.Millisecond,
		GrowthRate:      1,
	}
	broken := &brokenRounds{}
	broken.fails.Store(1)
	h := newHarness(t, cfg, func(s store.Store) store.Store {
		broken.Store = s
		return broken
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.m.Run(ctx)

	require.Eventually(t, func() bool {
		return h.m.State().Phase == domain.PhaseBetting
	}, 2*time.Second, time.Millisecond)

	rounds, err := h.mem.RecentCrashRounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, domain.PhaseBetting, rounds[0].Phase)
	assert.Equal(t, domain.PhaseCrashed, rounds[1].Phase, "the failed round is closed")
	assert.Equal(t, rounds[1].Nonce+1, rounds[0].Nonce)
}

func TestClosedRoundCannotMoveBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	h.fund(t, "u1", "100")
	roundID := h.openBetting(t)
	h.bet(t, "u1", "10", nil)

	// Another engine sharing the store closes the round.
	other := NewManager(DefaultConfig(), h.mem, h.ledger, nil, zap.NewNop())
	other.recoverOpenRounds(ctx)
	assert.Equal(t, domain.BetCancelled, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("100")))

	err := h.m.setPhase(ctx, domain.PhaseRunning)
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)
	r, err := h.mem.CrashRound(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCrashed, r.Phase)
	assert.Nil(t, r.StartedAt)

	// Aborting the stale view refunds nothing twice.
	h.m.abortCurrent(nil)
	assert.True(t, h.balance(t, "u1").Equal(dec("100")))
}

// leaseState is a single-holder lock shared by fakeLeases.
type leaseState struct {
	mu     sync.Mutex
	holder string
}

func (s *leaseState) steal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holder = id
}

type fakeLease struct {
	state *leaseState
	id    string
	tries atomic.Int32
}

func (l *fakeLease) TryAcquire(context.Context) (bool, error) {
	l.tries.Add(1)
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if l.state.holder == "" || l.state.holder == l.id {
		l.state.holder = l.id
		return true, nil
	}
	return false, nil
}

func (l *fakeLease) Renew(context.Context) (bool, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	return l.state.holder == l.id, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if l.state.holder == l.id {
		l.state.holder = ""
	}
	return nil
}

func leasedConfig(lease Lease) Config {
	return Config{
		WaitingDuration: 10 * time.Millisecond,
		BettingDuration: time.Minute,
		TickInterval:    5 * time.Millisecond,
		RetryBackoff:    10 * time.Millisecond,
		GrowthRate:      1,
		Lease:           lease,
		LeaseRenew:      10 * time.Millisecond,
	}
}

func runManager(ctx context.Context, m *Manager) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	return done
}

func TestOnlyLeaseHolderRunsRounds(t *testing.T) {
	mem := store.NewMemory()
	l := ledger.New(mem, zap.NewNop())
	_, err := l.Adjust(context.Background(), "u1", dec("100"), "seed")
	require.NoError(t, err)

	state := &leaseState{}
	leaseA := &fakeLease{state: state, id: "a"}
	leaseB := &fakeLease{state: state, id: "b"}

	b := NewManager(leasedConfig(leaseB), mem, l, nil, zap.NewNop())
	a := NewManager(leasedConfig(leaseA), mem, l, Broadcasters{b.Mirror()}, zap.NewNop())

	ctxA, stopA := context.WithCancel(context.Background())
	defer stopA()
	doneA := runManager(ctxA, a)
	require.Eventually(t, func() bool {
		return a.State().Phase == domain.PhaseBetting
	}, 2*time.Second, time.Millisecond)
	roundA := a.State().RoundID

	placed, err := a.PlaceCrashBet(context.Background(), CrashBetRequest{UserID: "u1", Stake: dec("10")})
	require.NoError(t, err)

	ctxB, stopB := context.WithCancel(context.Background())
	defer stopB()
	doneB := runManager(ctxB, b)
	require.Eventually(t, func() bool { return leaseB.tries.Load() >= 3 }, 2*time.Second, time.Millisecond)

	// The follower leaves the leader's round alone and mirrors its state.
	r, err := mem.CrashRound(context.Background(), roundA)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseBetting, r.Phase)
	bets, err := mem.CrashBets(context.Background(), roundA)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetPending, bets[0].Status)
	assert.Equal(t, placed.Bet.ID, bets[0].ID)
	assert.Equal(t, roundA, b.State().RoundID)
	assert.Equal(t, domain.PhaseBetting, b.State().Phase)

	_, err = b.PlaceCrashBet(context.Background(), CrashBetRequest{UserID: "u1", Stake: dec("5")})
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)
	_, err = b.CashOut(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)

	// When the leader stops, the follower takes over with the next nonce.
	stopA()
	<-doneA
	bal, err := mem.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")))

	require.Eventually(t, func() bool {
		s := b.State()
		return s.Phase == domain.PhaseBetting && s.RoundID != roundA
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, r.Nonce+1, b.State().Nonce)

	stopB()
	<-doneB
}

func TestLostLeaseStopsRounds(t *testing.T) {
	state := &leaseState{}
	lease := &fakeLease{state: state, id: "a"}
	h := newHarness(t, leasedConfig(lease), nil)
	h.m.leading.Store(false)
	h.fund(t, "u1", "100")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runManager(ctx, h.m)
	require.Eventually(t, func() bool {
		return h.m.State().Phase == domain.PhaseBetting
	}, 2*time.Second, time.Millisecond)
	roundID := h.m.State().RoundID
	_, err := h.m.PlaceCrashBet(ctx, CrashBetRequest{UserID: "u1", Stake: dec("10")})
	require.NoError(t, err)

	state.steal("other")

	require.Eventually(t, func() bool {
		r, err := h.mem.CrashRound(context.Background(), roundID)
		return err == nil && r.Phase == domain.PhaseCrashed
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, domain.BetCancelled, h.crashBet(t, roundID, "u1").Status)
	assert.True(t, h.balance(t, "u1").Equal(dec("100")))

	require.Eventually(t, func() bool { return !h.m.leading.Load() }, 2*time.Second, time.Millisecond)
	_, err = h.m.PlaceCrashBet(ctx, CrashBetRequest{UserID: "u1", Stake: dec("10")})
	assert.ErrorIs(t, err, domain.ErrPhaseClosed)

	cancel()
	<-done
}

func TestMirrorFollowsRelayedEvents(t *testing.T) {
	m := NewManager(DefaultConfig(), store.NewMemory(), nil, nil, zap.NewNop())
	mirror := m.Mirror()

	mirror.Broadcast(EventState, json.RawMessage(`{"round_id":"r9","nonce":9,"phase":"running","multiplier":"1.00","public_hash":"h","salt":"s"}`))
	mirror.Broadcast(EventTick, json.RawMessage(`{"round_id":"r9","multiplier":"1.75"}`))
	mirror.Broadcast(EventTick, json.RawMessage(`{"round_id":"other","multiplier":"9.00"}`))
	mirror.Broadcast(EventCrash, json.RawMessage(`not json`))

	s := m.State()
	assert.Equal(t, "r9", s.RoundID)
	assert.Equal(t, int64(9), s.Nonce)
	assert.Equal(t, domain.PhaseRunning, s.Phase)
	assert.True(t, s.Multiplier.Equal(dec("1.75")))

	m.leading.Store(true)
	mirror.Broadcast(EventState, RoundSnapshot{RoundID: "ignored"})
	assert.Equal(t, "r9", m.State().RoundID)
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
