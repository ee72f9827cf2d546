package betting

import (
	"context"
	"sync"
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

type fixture struct {
	store  *store.Memory
	ledger *ledger.Ledger
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	l := ledger.New(s, zap.NewNop())
	svc := NewService(s, l, Limits{MinStake: dec("1"), MaxStake: dec("1000"), MaxSelections: 5}, zap.NewNop())
	return &fixture{store: s, ledger: l, svc: svc}
}

func (f *fixture) game(t *testing.T, id string, status domain.GameStatus) {
	t.Helper()
	require.NoError(t, f.store.CreateGame(context.Background(), &domain.Game{
		ID:       id,
		HomeTeam: id + "-home",
		AwayTeam: id + "-away",
		Status:   status,
		Odds:     domain.Odds{Home: dec("2.5"), Draw: dec("3.2"), Away: dec("1.8")},
	}))
}

func (f *fixture) fund(t *testing.T, user, amount string) {
	t.Helper()
	_, err := f.ledger.Adjust(context.Background(), user, dec(amount), "seed")
	require.NoError(t, err)
}

func (f *fixture) assertUntouched(t *testing.T, user, balance string, entries int) {
	t.Helper()
	ctx := context.Background()
	bal, err := f.store.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec(balance)), "balance %s", bal)
	history, _ := f.store.Entries(ctx, user, 0)
	assert.Len(t, history, entries)
	bets, _ := f.store.UserBets(ctx, user, 0)
	assert.Empty(t, bets)
}

func TestPlaceSingleBet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.game(t, "g1", domain.GameUpcoming)
	f.fund(t, "u1", "100")

	p, err := f.svc.PlaceSingleBet(ctx, SingleBetRequest{UserID: "u1", GameID: "g1", Outcome: domain.OutcomeHome, Stake: dec("10")})
	require.NoError(t, err)

	assert.True(t, p.WalletBalance.Equal(dec("90")))
	assert.Equal(t, domain.BetSingle, p.Bet.Kind())
	assert.Equal(t, domain.BetPending, p.Bet.Status)
	assert.True(t, p.Bet.CombinedOdds.Equal(dec("2.5")))
	assert.True(t, p.Bet.PotentialPayout().Equal(dec("25")))

	stored, err := f.store.Bet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetPending, stored.Status)

	history, _ := f.store.Entries(ctx, "u1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EntryStake, history[0].Category)
	assert.Equal(t, p.Bet.ID, history[0].BetID)
	assert.True(t, history[0].Amount.Equal(dec("-10")))
	assert.True(t, history[0].BalanceAfter.Equal(dec("90")))
}

func TestPlaceMultiBetLocksOddsAtPlacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.game(t, "g1", domain.GameUpcoming)
	f.game(t, "g2", domain.GameUpcoming)
	f.fund(t, "u1", "100")

	p, err := f.svc.PlaceMultiBet(ctx, MultiBetRequest{
		UserID: "u1",
		Picks:  []Pick{{GameID: "g1", Outcome: domain.OutcomeHome}, {GameID: "g2", Outcome: domain.OutcomeAway}},
		Stake:  dec("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BetMulti, p.Bet.Kind())
	assert.True(t, p.Bet.CombinedOdds.Equal(dec("4.5")), p.Bet.CombinedOdds.String())

	require.NoError(t, f.store.UpdateGameOdds(ctx, "g1", domain.Odds{Home: dec("9"), Draw: dec("9"), Away: dec("9")}))

	stored, err := f.store.Bet(ctx, p.Bet.ID)
	require.NoError(t, err)
	assert.True(t, stored.CombinedOdds.Equal(dec("4.5")))
	assert.True(t, stored.Slip.Selections()[0].Odds.Equal(dec("2.5")))
}

func TestPlaceBetRejections(t *testing.T) {
	tests := []struct {
		name string
		req  func() (string, []Pick, decimal.Decimal)
		want *domain.Error
		kind domain.Kind
	}{
		{
			name: "insufficient funds",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: domain.OutcomeHome}}, dec("50.01")
			},
			want: domain.ErrInsufficientFunds,
			kind: domain.KindInsufficientFunds,
		},
		{
			name: "game live",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "live", Outcome: domain.OutcomeHome}}, dec("5")
			},
			want: domain.ErrGameNotOpen,
			kind: domain.KindStateConflict,
		},
		{
			name: "game finished inside multi",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: domain.OutcomeHome}, {GameID: "done", Outcome: domain.OutcomeDraw}}, dec("5")
			},
			want: domain.ErrGameNotOpen,
			kind: domain.KindStateConflict,
		},
		{
			name: "unknown game",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "nope", Outcome: domain.OutcomeHome}}, dec("5")
			},
			want: domain.ErrNotFound,
			kind: domain.KindNotFound,
		},
		{
			name: "duplicate game in slip",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: domain.OutcomeHome}, {GameID: "open", Outcome: domain.OutcomeAway}}, dec("5")
			},
			want: domain.ErrDuplicateGameInSlip,
			kind: domain.KindValidation,
		},
		{
			name: "zero stake",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: domain.OutcomeHome}}, decimal.Zero
			},
			want: domain.ErrInvalidRequest,
			kind: domain.KindValidation,
		},
		{
			name: "stake above limit",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: domain.OutcomeHome}}, dec("1000.01")
			},
			want: domain.ErrInvalidRequest,
			kind: domain.KindValidation,
		},
		{
			name: "bad outcome",
			req: func() (string, []Pick, decimal.Decimal) {
				return "u1", []Pick{{GameID: "open", Outcome: "over"}}, dec("5")
			},
			want: domain.ErrInvalidSelection,
			kind: domain.KindValidation,
		},
		{
			name: "too many selections",
			req: func() (string, []Pick, decimal.Decimal) {
				picks := make([]Pick, 6)
				for i := range picks {
					picks[i] = Pick{GameID: string(rune('a' + i)), Outcome: domain.OutcomeHome}
				}
				return "u1", picks, dec("5")
			},
			want: domain.ErrInvalidSelection,
			kind: domain.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.game(t, "open", domain.GameUpcoming)
			f.game(t, "live", domain.GameLive)
			f.game(t, "done", domain.GameFinished)
			f.fund(t, "u1", "50")

			user, picks, stake := tt.req()
			_, err := f.svc.PlaceBet(context.Background(), user, picks, stake)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			f.assertUntouched(t, "u1", "50", 1)
		})
	}
}

func TestPlaceBetAfterKickoff(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateGame(context.Background(), &domain.Game{
		ID:       "g1",
		Status:   domain.GameUpcoming,
		Odds:     domain.Odds{Home: dec("2"), Draw: dec("3"), Away: dec("4")},
		StartsAt: time.Now().Add(-time.Minute),
	}))
	f.fund(t, "u1", "50")

	_, err := f.svc.PlaceSingleBet(context.Background(), SingleBetRequest{UserID: "u1", GameID: "g1", Outcome: domain.OutcomeAway, Stake: dec("5")})
	assert.ErrorIs(t, err, domain.ErrGameNotOpen)
}

func TestPlaceRequestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PlaceSingleBet(context.Background(), SingleBetRequest{GameID: "g1", Outcome: domain.OutcomeHome, Stake: dec("5")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.PlaceMultiBet(context.Background(), MultiBetRequest{UserID: "u1", Picks: []Pick{{GameID: "g1", Outcome: domain.OutcomeHome}}, Stake: dec("5")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Picks")
}

func TestConcurrentPlacementsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.game(t, "g1", domain.GameUpcoming)
	f.fund(t, "u1", "100")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceSingleBet(ctx, SingleBetRequest{UserID: "u1", GameID: "g1", Outcome: domain.OutcomeDraw, Stake: dec("7")})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 14, accepted)
	bal, _ := f.store.Balance(ctx, "u1")
	assert.True(t, bal.Equal(dec("2")), bal.String())
	bets, _ := f.store.UserBets(ctx, "u1", 0)
	assert.Len(t, bets, 14)
}
