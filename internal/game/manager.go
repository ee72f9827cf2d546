// Package game runs the crash game. A single Manager goroutine owns the
// current round; bets and cash-outs reach it over channels and readers see
// an immutable snapshot.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/ledger"
	"wager/internal/metrics"
	"wager/internal/store"
)

// MinAutoCashOut is the lowest accepted auto cash-out target.
var MinAutoCashOut = decimal.RequireFromString("1.01")

var errFollowing = domain.ErrPhaseClosed.Withf("crash rounds are run by another instance")

type Config struct {
	WaitingDuration   time.Duration
	BettingDuration   time.Duration
	TickInterval      time.Duration
	RetryBackoff      time.Duration
	GrowthRate        float64
	InstantCrashEvery int64
	MinStake          decimal.Decimal
	MaxStake          decimal.Decimal

	// Lease, when set, must be held to run rounds. It is renewed every
	// LeaseRenew; without it the loop assumes it is the only one.
	Lease      Lease
	LeaseRenew time.Duration
}

func DefaultConfig() Config {
	return Config{
		WaitingDuration:   3 * time.Second,
		BettingDuration:   5 * time.Second,
		TickInterval:      100 * time.Millisecond,
		RetryBackoff:      2 * time.Second,
		GrowthRate:        0.06,
		InstantCrashEvery: DefaultInstantCrashEvery,
		LeaseRenew:        5 * time.Second,
	}
}

// Lease keeps rounds to one running loop across instances.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	// Renew reports false once another holder owns the lease.
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type betRequest struct {
	CrashBetRequest
	resp chan betResponse
}

type betResponse struct {
	placement *CrashPlacement
	err       error
}

type cashOutRequest struct {
	userID string
	resp   chan cashOutResponse
}

type cashOutResponse struct {
	result *CashOutResult
	err    error
}

type Manager struct {
	cfg         Config
	store       store.Store
	ledger      *ledger.Ledger
	broadcaster Broadcaster
	validate    *validator.Validate
	log         *zap.Logger

	betCh     chan betRequest
	cashoutCh chan cashOutRequest
	done      chan struct{}
	snapshot  atomic.Pointer[RoundSnapshot]
	leading   atomic.Bool

	now     func() time.Time
	newSeed func() (string, error)

	// Owned by the Run goroutine.
	nonce      int64
	round      *domain.CrashRound
	crashCents int64
	current    int64
	pending    []*domain.CrashBet
	byUser     map[string]*domain.CrashBet
}

func NewManager(cfg Config, s store.Store, l *ledger.Ledger, b Broadcaster, log *zap.Logger) *Manager {
	if b == nil {
		b = Broadcasters(nil)
	}
	if cfg.LeaseRenew <= 0 {
		cfg.LeaseRenew = time.Second
	}
	m := &Manager{
		cfg:         cfg,
		store:       s,
		ledger:      l,
		broadcaster: b,
		validate:    validator.New(),
		log:         log.Named("crash"),
		betCh:       make(chan betRequest, 1000),
		cashoutCh:   make(chan cashOutRequest, 1000),
		done:        make(chan struct{}),
		now:         time.Now,
		newSeed:     GenerateSeed,
		byUser:      make(map[string]*domain.CrashBet),
	}
	m.snapshot.Store(&RoundSnapshot{Phase: domain.PhaseWaiting, Multiplier: domain.MinMultiplier})
	return m
}

// State returns the latest published snapshot.
func (m *Manager) State() RoundSnapshot {
	return *m.snapshot.Load()
}

// PlaceCrashBet debits the stake and enters the user into the current round.
// Only accepted during the betting phase, once per user per round.
func (m *Manager) PlaceCrashBet(ctx context.Context, req CrashBetRequest) (*CrashPlacement, error) {
	if err := m.checkBet(req); err != nil {
		metrics.CrashBets.WithLabelValues("rejected").Inc()
		return nil, err
	}
	r := betRequest{CrashBetRequest: req, resp: make(chan betResponse, 1)}
	select {
	case m.betCh <- r:
	case <-m.done:
		return nil, domain.ErrPhaseClosed.Withf("crash engine is stopped")
	case <-ctx.Done():
		return nil, domain.Storage(ctx.Err())
	}
	select {
	case resp := <-r.resp:
		return resp.placement, resp.err
	case <-m.done:
	}
	// The loop answers before it exits, so a reply may still be waiting.
	select {
	case resp := <-r.resp:
		return resp.placement, resp.err
	default:
		return nil, domain.ErrPhaseClosed.Withf("crash engine is stopped")
	}
}

// CashOut resolves the user's pending bet at the current multiplier.
func (m *Manager) CashOut(ctx context.Context, userID string) (*CashOutResult, error) {
	if err := m.validate.Struct(CashOutRequest{UserID: userID}); err != nil {
		return nil, domain.ErrInvalidRequest.Withf("user id is required")
	}
	r := cashOutRequest{userID: userID, resp: make(chan cashOutResponse, 1)}
	select {
	case m.cashoutCh <- r:
	case <-m.done:
		return nil, domain.ErrPhaseClosed.Withf("crash engine is stopped")
	case <-ctx.Done():
		return nil, domain.Storage(ctx.Err())
	}
	select {
	case resp := <-r.resp:
		return resp.result, resp.err
	case <-m.done:
	}
	select {
	case resp := <-r.resp:
		return resp.result, resp.err
	default:
		return nil, domain.ErrPhaseClosed.Withf("crash engine is stopped")
	}
}

// History lists the fairness reveals of recently crashed rounds, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]domain.Reveal, error) {
	rounds, err := m.store.RecentCrashRounds(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Reveal, 0, len(rounds))
	for _, r := range rounds {
		if rev, ok := r.Reveal(); ok {
			out = append(out, rev)
		}
	}
	return out, nil
}

// Verify recomputes a revealed round with this engine's settings.
func (m *Manager) Verify(r domain.Reveal) bool {
	return VerifyRound(r.ServerSeed, r.Salt, r.PublicHash, r.CrashMultiplier, m.cfg.InstantCrashEvery)
}

func (m *Manager) checkBet(req CrashBetRequest) error {
	if err := m.validate.Struct(req); err != nil {
		return domain.ErrInvalidRequest.Withf("user id is required")
	}
	if !req.Stake.IsPositive() {
		return domain.ErrInvalidRequest.Withf("stake must be positive")
	}
	if !m.cfg.MinStake.IsZero() && req.Stake.LessThan(m.cfg.MinStake) {
		return domain.ErrInvalidRequest.Withf("stake must be at least %s", m.cfg.MinStake)
	}
	if !m.cfg.MaxStake.IsZero() && req.Stake.GreaterThan(m.cfg.MaxStake) {
		return domain.ErrInvalidRequest.Withf("stake must be at most %s", m.cfg.MaxStake)
	}
	if req.AutoCashOutAt != nil && req.AutoCashOutAt.LessThan(MinAutoCashOut) {
		return domain.ErrInvalidRequest.Withf("auto cash-out must be at least %s", MinAutoCashOut)
	}
	return nil
}

// Run drives rounds until ctx is cancelled. With a Lease configured, rounds
// only run while it is held; in between, bets and cash-outs are rejected and
// State follows the events fed to Mirror.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		lead, release, ok := m.acquire(ctx)
		if !ok {
			m.log.Info("crash loop stopped")
			return
		}
		m.lead(lead)
		release()
		if ctx.Err() != nil {
			m.log.Info("crash loop stopped")
			return
		}
		m.log.Warn("crash engine lease lost, following")
	}
}

// lead runs rounds until ctx ends. Rounds left open by an earlier leader
// are refunded first. A cycle that fails or panics has its pending bets
// refunded, and a fresh cycle starts after the retry backoff.
func (m *Manager) lead(ctx context.Context) {
	m.leading.Store(true)
	defer m.leading.Store(false)
	m.recoverOpenRounds(ctx)

	for {
		err := m.safeCycle(ctx)
		if ctx.Err() != nil {
			m.abortCurrent(err)
			return
		}
		if err != nil {
			m.log.Error("crash round interrupted", zap.Error(err))
			m.abortCurrent(err)
			if !m.serve(ctx, m.cfg.RetryBackoff) {
				return
			}
		}
	}
}

// acquire blocks until this instance may run rounds, answering requests
// meanwhile. The returned context ends when the lease is lost; release
// stops renewal and gives the lease up.
func (m *Manager) acquire(ctx context.Context) (context.Context, func(), bool) {
	lease := m.cfg.Lease
	if lease == nil {
		return ctx, func() {}, ctx.Err() == nil
	}
	for {
		ok, err := lease.TryAcquire(ctx)
		if err != nil && ctx.Err() == nil {
			m.log.Warn("acquire crash engine lease failed", zap.Error(err))
		}
		if ok && ctx.Err() == nil {
			break
		}
		if !m.serve(ctx, m.cfg.LeaseRenew) {
			return nil, nil, false
		}
	}
	m.log.Info("crash engine lease acquired")

	lead, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(m.cfg.LeaseRenew)
		defer ticker.Stop()
		for {
			select {
			case <-lead.Done():
				return
			case <-ticker.C:
				held, err := lease.Renew(lead)
				if err == nil && held {
					continue
				}
				if lead.Err() == nil {
					m.log.Warn("crash engine lease renewal failed", zap.Bool("held", held), zap.Error(err))
				}
				cancel()
				return
			}
		}
	}()

	release := func() {
		cancel()
		<-stopped
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		if err := lease.Release(rctx); err != nil {
			m.log.Warn("release crash engine lease failed", zap.Error(err))
		}
	}
	return lead, release, true
}

func (m *Manager) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in crash round: %v", r)
			m.log.Error("crash round panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return m.cycle(ctx)
}

// cycle runs one round through waiting, betting, running and crashed.
func (m *Manager) cycle(ctx context.Context) error {
	if err := m.openRound(ctx); err != nil {
		return err
	}
	if !m.serve(ctx, m.cfg.WaitingDuration) {
		return ctx.Err()
	}

	if err := m.setPhase(ctx, domain.PhaseBetting); err != nil {
		return err
	}
	if !m.serve(ctx, m.cfg.BettingDuration) {
		return ctx.Err()
	}

	if err := m.setPhase(ctx, domain.PhaseRunning); err != nil {
		return err
	}
	if m.tick(ctx, 100) {
		return m.crash(ctx)
	}
	start := m.now()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-m.betCh:
			m.answerBet(ctx, r)
		case r := <-m.cashoutCh:
			m.answerCashOut(ctx, r)
		case <-ticker.C:
			if m.tick(ctx, MultiplierAt(m.now().Sub(start), m.cfg.GrowthRate)) {
				return m.crash(ctx)
			}
		}
	}
}

// serve answers requests for d. It reports false if ctx ended first.
func (m *Manager) serve(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case r := <-m.betCh:
			m.answerBet(ctx, r)
		case r := <-m.cashoutCh:
			m.answerCashOut(ctx, r)
		}
	}
}

func (m *Manager) answerBet(ctx context.Context, r betRequest) {
	p, err := m.handleBet(ctx, r.CrashBetRequest)
	r.resp <- betResponse{placement: p, err: err}
}

func (m *Manager) answerCashOut(ctx context.Context, r cashOutRequest) {
	res, err := m.handleCashOut(ctx, r.userID)
	r.resp <- cashOutResponse{result: res, err: err}
}

func (m *Manager) openRound(ctx context.Context) error {
	seed, err := m.newSeed()
	if err != nil {
		return err
	}
	salt, err := m.newSeed()
	if err != nil {
		return err
	}
	cents := CrashPointCents(seed, salt, m.cfg.InstantCrashEvery)
	r := &domain.CrashRound{
		ID:              uuid.NewString(),
		Nonce:           m.nonce + 1,
		ServerSeed:      seed,
		Salt:            salt,
		PublicHash:      HashCommitment(seed),
		CrashMultiplier: domain.MultiplierFromCents(cents),
		Phase:           domain.PhaseWaiting,
		CreatedAt:       m.now(),
	}
	if err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertCrashRound(ctx, r)
	}); err != nil {
		return fmt.Errorf("create round: %w", err)
	}

	m.nonce = r.Nonce
	m.round = r
	m.crashCents = cents
	m.current = 100
	m.pending = nil
	m.byUser = make(map[string]*domain.CrashBet)

	m.log.Info("crash round created",
		zap.String("round_id", r.ID),
		zap.Int64("nonce", r.Nonce),
		zap.String("public_hash", r.PublicHash))
	m.publish(m.cfg.WaitingDuration)
	return nil
}

func (m *Manager) setPhase(ctx context.Context, phase domain.RoundPhase) error {
	from := m.round.Phase
	next := *m.round
	next.Phase = phase
	var window time.Duration
	switch phase {
	case domain.PhaseBetting:
		window = m.cfg.BettingDuration
	case domain.PhaseRunning:
		now := m.now()
		next.StartedAt = &now
	}
	if err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		return moveRound(ctx, tx, &next, from)
	}); err != nil {
		return fmt.Errorf("move round to %s: %w", phase, err)
	}
	m.round = &next
	m.publish(window)
	return nil
}

// tick applies one multiplier step. Auto cash-outs whose target was reached
// are paid before the crash check. It reports whether the round crashed.
func (m *Manager) tick(ctx context.Context, cents int64) bool {
	if cents > m.current {
		m.current = cents
	}

	for _, bet := range append([]*domain.CrashBet(nil), m.pending...) {
		if bet.AutoCashOutAt == nil {
			continue
		}
		target := domain.MultiplierCents(*bet.AutoCashOutAt)
		if target > m.current || target > m.crashCents {
			continue
		}
		if _, err := m.resolveCashOut(ctx, bet, target, true); err != nil {
			m.log.Error("auto cash-out failed",
				zap.String("bet_id", bet.ID),
				zap.String("user_id", bet.UserID),
				zap.String("round_id", bet.RoundID),
				zap.Error(err))
		}
	}

	if m.current >= m.crashCents {
		m.current = m.crashCents
		return true
	}

	mult := domain.MultiplierFromCents(m.current)
	m.updateSnapshot(func(s *RoundSnapshot) { s.Multiplier = mult })
	m.broadcaster.Broadcast(EventTick, TickEvent{RoundID: m.round.ID, Multiplier: mult})
	return false
}

// crash reveals the seeds and marks every bet still pending as lost.
func (m *Manager) crash(ctx context.Context) error {
	next := *m.round
	now := m.now()
	next.Phase = domain.PhaseCrashed
	next.CrashedAt = &now

	var lost int64
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := moveRound(ctx, tx, &next, m.round.Phase); err != nil {
			return err
		}
		var err error
		lost, err = tx.LoseCrashBets(ctx, next.ID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("crash round: %w", err)
	}

	m.round = &next
	m.pending = nil
	m.byUser = make(map[string]*domain.CrashBet)
	reveal, _ := next.Reveal()

	metrics.CrashRounds.WithLabelValues("crashed").Inc()
	metrics.CrashPoints.Observe(next.CrashMultiplier.InexactFloat64())
	metrics.CrashBets.WithLabelValues("lost").Add(float64(lost))

	m.log.Info("crash round crashed",
		zap.String("round_id", next.ID),
		zap.String("crash_multiplier", next.CrashMultiplier.StringFixed(2)),
		zap.Int64("lost_bets", lost))

	m.broadcaster.Broadcast(EventCrash, CrashEvent{
		RoundID:    next.ID,
		Multiplier: next.CrashMultiplier,
		Reveal:     reveal,
		Lost:       lost,
	})
	m.publish(0)
	m.round = nil
	return nil
}

func (m *Manager) handleBet(ctx context.Context, req CrashBetRequest) (*CrashPlacement, error) {
	if !m.leading.Load() {
		metrics.CrashBets.WithLabelValues("rejected").Inc()
		return nil, errFollowing
	}
	if m.round == nil || m.round.Phase != domain.PhaseBetting {
		metrics.CrashBets.WithLabelValues("rejected").Inc()
		return nil, domain.ErrPhaseClosed.Withf("bets are only accepted while betting is open")
	}
	if _, ok := m.byUser[req.UserID]; ok {
		metrics.CrashBets.WithLabelValues("rejected").Inc()
		return nil, domain.ErrBetAlreadyPlaced
	}

	stake := req.Stake.Round(domain.MoneyPlaces)
	bet := &domain.CrashBet{
		ID:       uuid.NewString(),
		RoundID:  m.round.ID,
		UserID:   req.UserID,
		Stake:    stake,
		Status:   domain.BetPending,
		Payout:   decimal.Zero,
		PlacedAt: m.now(),
	}
	if req.AutoCashOutAt != nil {
		target := domain.MultiplierFromCents(domain.MultiplierCents(*req.AutoCashOutAt))
		bet.AutoCashOutAt = &target
	}

	var balance decimal.Decimal
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		entry, err := m.ledger.Debit(ctx, tx, bet.UserID, stake, domain.EntryStake, bet.ID)
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return tx.InsertCrashBet(ctx, bet)
	})
	if err != nil {
		metrics.CrashBets.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("place crash bet: %w", err)
	}

	m.pending = append(m.pending, bet)
	m.byUser[bet.UserID] = bet
	metrics.CrashBets.WithLabelValues("placed").Inc()
	m.log.Info("crash bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("user_id", bet.UserID),
		zap.String("round_id", bet.RoundID),
		zap.String("stake", stake.String()))
	m.broadcaster.Broadcast(EventBetPlaced, BetPlacedEvent{
		RoundID:       bet.RoundID,
		BetID:         bet.ID,
		UserID:        bet.UserID,
		Stake:         bet.Stake,
		AutoCashOutAt: bet.AutoCashOutAt,
	})

	c := *bet
	return &CrashPlacement{Bet: &c, WalletBalance: balance}, nil
}

func (m *Manager) handleCashOut(ctx context.Context, userID string) (*CashOutResult, error) {
	if !m.leading.Load() {
		return nil, errFollowing
	}
	if m.round == nil || m.round.Phase != domain.PhaseRunning {
		return nil, domain.ErrPhaseClosed.Withf("cash-out is only possible while the round is running")
	}
	bet, ok := m.byUser[userID]
	if !ok {
		return nil, domain.ErrNoPendingBet
	}
	return m.resolveCashOut(ctx, bet, m.current, false)
}

// resolveCashOut pays bet at cents. The status flip and the credit commit
// together; a bet already resolved elsewhere yields ErrBetResolved.
func (m *Manager) resolveCashOut(ctx context.Context, bet *domain.CrashBet, cents int64, auto bool) (*CashOutResult, error) {
	mult := domain.MultiplierFromCents(cents)
	payout := domain.Payout(bet.Stake, mult)
	now := m.now()

	var balance decimal.Decimal
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		ok, err := tx.ResolveCrashBet(ctx, bet.ID, domain.BetWon, &mult, payout, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrBetResolved
		}
		entry, err := m.ledger.Credit(ctx, tx, bet.UserID, payout, domain.EntryPayout, bet.ID)
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return nil
	})
	if errors.Is(err, domain.ErrBetResolved) {
		m.forget(bet)
	}
	if err != nil {
		return nil, fmt.Errorf("cash out: %w", err)
	}
	m.forget(bet)

	resolved := *bet
	resolved.Status = domain.BetWon
	resolved.CashOutAt = &mult
	resolved.Payout = payout
	resolved.ResolvedAt = &now

	label := "manual"
	if auto {
		label = "auto"
	}
	metrics.CrashBets.WithLabelValues(label).Inc()
	m.log.Info("crash bet cashed out",
		zap.String("bet_id", bet.ID),
		zap.String("user_id", bet.UserID),
		zap.String("multiplier", mult.StringFixed(2)),
		zap.String("payout", payout.String()),
		zap.Bool("auto", auto))
	m.broadcaster.Broadcast(EventCashedOut, CashedOutEvent{
		RoundID:    bet.RoundID,
		BetID:      bet.ID,
		UserID:     bet.UserID,
		Multiplier: mult,
		Payout:     payout,
		Auto:       auto,
	})
	return &CashOutResult{Bet: &resolved, Multiplier: mult, Payout: payout, WalletBalance: balance}, nil
}

func (m *Manager) forget(bet *domain.CrashBet) {
	delete(m.byUser, bet.UserID)
	for i, b := range m.pending {
		if b.ID == bet.ID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// abortCurrent refunds the round that was in progress when a cycle failed.
// It uses its own context so a shutdown still gets the refunds through.
func (m *Manager) abortCurrent(cause error) {
	if m.round == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.abortRound(ctx, m.round); err != nil {
		m.log.Error("refund interrupted round failed",
			zap.String("round_id", m.round.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
	m.round = nil
	m.pending = nil
	m.byUser = make(map[string]*domain.CrashBet)
	m.publish(0)
}

// abortRound cancels and refunds every pending bet of r and closes it as
// crashed so its seeds are revealed. A round already moved past r.Phase is
// left alone.
func (m *Manager) abortRound(ctx context.Context, r *domain.CrashRound) error {
	next := *r
	now := m.now()
	next.Phase = domain.PhaseCrashed
	next.CrashedAt = &now

	var (
		refunded int
		moved    bool
	)
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		ok, err := tx.UpdateCrashRound(ctx, &next, r.Phase)
		if err != nil {
			return err
		}
		if !ok {
			moved = true
			return nil
		}
		bets, err := tx.PendingCrashBets(ctx, r.ID)
		if err != nil {
			return err
		}
		for _, b := range bets {
			ok, err := tx.ResolveCrashBet(ctx, b.ID, domain.BetCancelled, nil, decimal.Zero, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := m.ledger.Credit(ctx, tx, b.UserID, b.Stake, domain.EntryRefund, b.ID); err != nil {
				return err
			}
			refunded++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if moved {
		m.log.Info("crash round already closed elsewhere", zap.String("round_id", r.ID))
		return nil
	}
	metrics.CrashRounds.WithLabelValues("aborted").Inc()
	metrics.CrashBets.WithLabelValues("refunded").Add(float64(refunded))
	m.log.Warn("crash round aborted",
		zap.String("round_id", r.ID),
		zap.Int("refunded_bets", refunded))
	return nil
}

func (m *Manager) recoverOpenRounds(ctx context.Context) {
	if recent, err := m.store.RecentCrashRounds(ctx, 1); err == nil && len(recent) > 0 {
		m.nonce = recent[0].Nonce
	}
	open, err := m.store.OpenCrashRounds(ctx)
	if err != nil {
		m.log.Error("list open crash rounds failed", zap.Error(err))
		return
	}
	for _, r := range open {
		if r.Nonce > m.nonce {
			m.nonce = r.Nonce
		}
		if err := m.abortRound(ctx, r); err != nil {
			m.log.Error("recover crash round failed", zap.String("round_id", r.ID), zap.Error(err))
		}
	}
}

// publish stores a fresh snapshot of the current round and broadcasts it.
func (m *Manager) publish(window time.Duration) {
	s := &RoundSnapshot{Phase: domain.PhaseWaiting, Multiplier: domain.MinMultiplier}
	if r := m.round; r != nil {
		s.RoundID = r.ID
		s.Nonce = r.Nonce
		s.Phase = r.Phase
		s.PublicHash = r.PublicHash
		s.Salt = r.Salt
		s.Multiplier = domain.MultiplierFromCents(m.current)
		if rev, ok := r.Reveal(); ok {
			s.Reveal = &rev
		}
	}
	if window > 0 {
		ends := m.now().Add(window)
		s.PhaseEndsAt = &ends
	}
	m.snapshot.Store(s)
	m.broadcaster.Broadcast(EventState, *s)
}

func (m *Manager) updateSnapshot(fn func(s *RoundSnapshot)) {
	next := *m.snapshot.Load()
	fn(&next)
	m.snapshot.Store(&next)
}

// moveRound writes r if the stored round is still in phase from.
func moveRound(ctx context.Context, tx store.Tx, r *domain.CrashRound, from domain.RoundPhase) error {
	ok, err := tx.UpdateCrashRound(ctx, r, from)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPhaseClosed.Withf("round %s is no longer %s", r.ID, from)
	}
	return nil
}

// Mirror returns a Broadcaster that keeps State in step with round events
// relayed from the instance running the loop. It ignores events while this
// instance leads.
func (m *Manager) Mirror() Broadcaster { return mirror{m} }

type mirror struct{ m *Manager }

func (f mirror) Broadcast(event string, payload any) {
	if f.m.leading.Load() {
		return
	}
	switch event {
	case EventState:
		var s RoundSnapshot
		if decodeEvent(payload, &s) {
			f.m.snapshot.Store(&s)
		}
	case EventTick:
		var t TickEvent
		if decodeEvent(payload, &t) {
			f.m.updateSnapshot(func(s *RoundSnapshot) {
				if s.RoundID == t.RoundID {
					s.Multiplier = t.Multiplier
				}
			})
		}
	}
}

func decodeEvent(payload any, v any) bool {
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return false
		}
		raw = b
	}
	return json.Unmarshal(raw, v) == nil
}
