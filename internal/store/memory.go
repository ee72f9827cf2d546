package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wager/internal/domain"
)

// Memory is an embedded Store. Transactions are serialised behind a single
// lock and rolled back by restoring a snapshot taken when they began.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	wallets    map[string]decimal.Decimal
	entries    []domain.LedgerEntry
	games      map[string]*domain.Game
	bets       map[string]*domain.Bet
	betOrder   []string
	rounds     map[string]*domain.CrashRound
	roundOrder []string
	crashBets  map[string]*domain.CrashBet
	crashOrder []string
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		wallets:   make(map[string]decimal.Decimal),
		games:     make(map[string]*domain.Game),
		bets:      make(map[string]*domain.Bet),
		rounds:    make(map[string]*domain.CrashRound),
		crashBets: make(map[string]*domain.CrashBet),
	}}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Storage(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	committed := false
	defer func() {
		if !committed {
			m.state = snapshot
		}
	}()
	if err := fn(&memTx{s: m.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.wallets[userID], nil
}

func (m *Memory) Entries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LedgerEntry
	for i := len(m.state.entries) - 1; i >= 0; i-- {
		if e := m.state.entries[i]; e.UserID == userID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Game(_ context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.state.games[id]
	if !ok {
		return nil, domain.ErrNotFound.Withf("game %s not found", id)
	}
	return cloneGame(g), nil
}

func (m *Memory) Games(_ context.Context, status domain.GameStatus) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Game
	for _, g := range m.state.games {
		if status == "" || g.Status == status {
			out = append(out, cloneGame(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateGame(_ context.Context, g *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.games[g.ID]; ok {
		return domain.ErrInvalidRequest.Withf("game %s already exists", g.ID)
	}
	m.state.games[g.ID] = cloneGame(g)
	return nil
}

func (m *Memory) UpdateGameOdds(_ context.Context, id string, odds domain.Odds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.state.games[id]
	if !ok {
		return domain.ErrNotFound.Withf("game %s not found", id)
	}
	g.Odds = odds
	g.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Bet(_ context.Context, id string) (*domain.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.bets[id]
	if !ok {
		return nil, domain.ErrNotFound.Withf("bet %s not found", id)
	}
	return b.Clone(), nil
}

func (m *Memory) UserBets(_ context.Context, userID string, limit int) ([]*domain.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Bet
	for i := len(m.state.betOrder) - 1; i >= 0; i-- {
		if b := m.state.bets[m.state.betOrder[i]]; b.UserID == userID {
			out = append(out, b.Clone())
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) PendingBetIDs(_ context.Context, gameID string, kind domain.BetKind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, id := range m.state.betOrder {
		b := m.state.bets[id]
		if b.Status != domain.BetPending || b.Kind() != kind {
			continue
		}
		for _, sel := range b.Slip.Selections() {
			if sel.GameID == gameID {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (m *Memory) GamesAwaitingSettlement(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, id := range m.state.betOrder {
		b := m.state.bets[id]
		if b.Status != domain.BetPending {
			continue
		}
		for _, sel := range b.Slip.Selections() {
			g, ok := m.state.games[sel.GameID]
			if !ok || seen[g.ID] {
				continue
			}
			if g.Status == domain.GameFinished || g.Status == domain.GameCancelled {
				seen[g.ID] = true
				ids = append(ids, g.ID)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) CrashRound(_ context.Context, id string) (*domain.CrashRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.rounds[id]
	if !ok {
		return nil, domain.ErrNotFound.Withf("round %s not found", id)
	}
	return cloneRound(r), nil
}

func (m *Memory) RecentCrashRounds(_ context.Context, limit int) ([]*domain.CrashRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.CrashRound
	for i := len(m.state.roundOrder) - 1; i >= 0; i-- {
		out = append(out, cloneRound(m.state.rounds[m.state.roundOrder[i]]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) OpenCrashRounds(_ context.Context) ([]*domain.CrashRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.CrashRound
	for _, id := range m.state.roundOrder {
		if r := m.state.rounds[id]; r.Phase != domain.PhaseCrashed {
			out = append(out, cloneRound(r))
		}
	}
	return out, nil
}

func (m *Memory) CrashBets(_ context.Context, roundID string) ([]*domain.CrashBet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.crashBetsFor(roundID, false), nil
}

type memTx struct {
	s *memState
}

func (t *memTx) LockWallet(_ context.Context, userID string) (decimal.Decimal, error) {
	bal, ok := t.s.wallets[userID]
	if !ok {
		t.s.wallets[userID] = decimal.Zero
	}
	return bal, nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	t.s.wallets[userID] = balance
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	t.s.entries = append(t.s.entries, *e)
	return nil
}

func (t *memTx) LockGame(ctx context.Context, id string) (*domain.Game, error) {
	return t.Game(ctx, id)
}

func (t *memTx) Game(_ context.Context, id string) (*domain.Game, error) {
	g, ok := t.s.games[id]
	if !ok {
		return nil, domain.ErrNotFound.Withf("game %s not found", id)
	}
	return cloneGame(g), nil
}

func (t *memTx) UpdateGame(_ context.Context, g *domain.Game) error {
	if _, ok := t.s.games[g.ID]; !ok {
		return domain.ErrNotFound.Withf("game %s not found", g.ID)
	}
	t.s.games[g.ID] = cloneGame(g)
	return nil
}

func (t *memTx) InsertBet(_ context.Context, b *domain.Bet) error {
	t.s.bets[b.ID] = b.Clone()
	t.s.betOrder = append(t.s.betOrder, b.ID)
	return nil
}

func (t *memTx) LockBet(_ context.Context, id string) (*domain.Bet, error) {
	b, ok := t.s.bets[id]
	if !ok {
		return nil, domain.ErrNotFound.Withf("bet %s not found", id)
	}
	return b.Clone(), nil
}

func (t *memTx) FinalizeBet(_ context.Context, id string, status domain.BetStatus, payout decimal.Decimal, at time.Time) (bool, error) {
	b, ok := t.s.bets[id]
	if !ok {
		return false, domain.ErrNotFound.Withf("bet %s not found", id)
	}
	if b.Status != domain.BetPending {
		return false, nil
	}
	b.Status = status
	b.Payout = payout
	b.SettledAt = &at
	return true, nil
}

func (t *memTx) InsertCrashRound(_ context.Context, r *domain.CrashRound) error {
	t.s.rounds[r.ID] = cloneRound(r)
	t.s.roundOrder = append(t.s.roundOrder, r.ID)
	return nil
}

func (t *memTx) UpdateCrashRound(_ context.Context, r *domain.CrashRound, from domain.RoundPhase) (bool, error) {
	cur, ok := t.s.rounds[r.ID]
	if !ok || cur.Phase != from {
		return false, nil
	}
	t.s.rounds[r.ID] = cloneRound(r)
	return true, nil
}

func (t *memTx) InsertCrashBet(_ context.Context, b *domain.CrashBet) error {
	for _, existing := range t.s.crashBetsFor(b.RoundID, false) {
		if existing.UserID == b.UserID {
			return domain.ErrBetAlreadyPlaced
		}
	}
	c := *b
	t.s.crashBets[b.ID] = &c
	t.s.crashOrder = append(t.s.crashOrder, b.ID)
	return nil
}

func (t *memTx) ResolveCrashBet(_ context.Context, id string, status domain.BetStatus, cashOutAt *decimal.Decimal, payout decimal.Decimal, at time.Time) (bool, error) {
	b, ok := t.s.crashBets[id]
	if !ok {
		return false, domain.ErrNotFound.Withf("crash bet %s not found", id)
	}
	if b.Status != domain.BetPending {
		return false, nil
	}
	b.Status = status
	b.CashOutAt = cashOutAt
	b.Payout = payout
	b.ResolvedAt = &at
	return true, nil
}

func (t *memTx) LoseCrashBets(_ context.Context, roundID string, at time.Time) (int64, error) {
	var n int64
	for _, id := range t.s.crashOrder {
		b := t.s.crashBets[id]
		if b.RoundID == roundID && b.Status == domain.BetPending {
			b.Status = domain.BetLost
			b.Payout = decimal.Zero
			resolved := at
			b.ResolvedAt = &resolved
			n++
		}
	}
	return n, nil
}

func (t *memTx) PendingCrashBets(_ context.Context, roundID string) ([]*domain.CrashBet, error) {
	return t.s.crashBetsFor(roundID, true), nil
}

func (s *memState) crashBetsFor(roundID string, pendingOnly bool) []*domain.CrashBet {
	var out []*domain.CrashBet
	for _, id := range s.crashOrder {
		b := s.crashBets[id]
		if b.RoundID != roundID || (pendingOnly && b.Status != domain.BetPending) {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	return out
}

func (s *memState) clone() *memState {
	c := &memState{
		wallets:    make(map[string]decimal.Decimal, len(s.wallets)),
		entries:    append([]domain.LedgerEntry(nil), s.entries...),
		games:      make(map[string]*domain.Game, len(s.games)),
		bets:       make(map[string]*domain.Bet, len(s.bets)),
		betOrder:   append([]string(nil), s.betOrder...),
		rounds:     make(map[string]*domain.CrashRound, len(s.rounds)),
		roundOrder: append([]string(nil), s.roundOrder...),
		crashBets:  make(map[string]*domain.CrashBet, len(s.crashBets)),
		crashOrder: append([]string(nil), s.crashOrder...),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.games {
		c.games[k] = cloneGame(v)
	}
	for k, v := range s.bets {
		c.bets[k] = v.Clone()
	}
	for k, v := range s.rounds {
		c.rounds[k] = cloneRound(v)
	}
	for k, v := range s.crashBets {
		b := *v
		c.crashBets[k] = &b
	}
	return c
}

func cloneGame(g *domain.Game) *domain.Game {
	c := *g
	if g.Result != nil {
		r := *g.Result
		c.Result = &r
	}
	return &c
}

func cloneRound(r *domain.CrashRound) *domain.CrashRound {
	c := *r
	return &c
}
