// Package settlement resolves sportsbook bets once game results are known.
//
// Each bet is settled in its own transaction: the pending -> terminal status
// flip, the wallet credit and the ledger entry commit together. Because the
// flip is conditional on the bet still being pending, settling the same game
// twice pays nothing the second time.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/ledger"
	"wager/internal/metrics"
	"wager/internal/notify"
	"wager/internal/store"
)

// Notifier receives an outcome after its settlement has committed.
type Notifier interface {
	Notify(o notify.Outcome)
}

// Report summarises one settlement pass over a game.
type Report struct {
	GameID   string `json:"game_id"`
	Settled  int    `json:"settled"`
	Awaiting int    `json:"awaiting"`
	Failed   int    `json:"failed"`
}

type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(s store.Store, l *ledger.Ledger, n Notifier, log *zap.Logger) *Engine {
	return &Engine{
		store:    s,
		ledger:   l,
		notifier: n,
		log:      log.Named("settlement"),
		now:      time.Now,
	}
}

// OnGameStarted moves an upcoming game to live, which closes it for betting.
// Starting a live game again is a no-op.
func (e *Engine) OnGameStarted(ctx context.Context, gameID string) (*domain.Game, error) {
	var started *domain.Game
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		started = g
		switch g.Status {
		case domain.GameLive:
			return nil
		case domain.GameFinished, domain.GameCancelled:
			return domain.ErrGameNotOpen.Withf("game %s is %s and cannot start", g.ID, g.Status)
		}
		g.Status = domain.GameLive
		g.UpdatedAt = e.now()
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, fmt.Errorf("start game: %w", err)
	}
	e.log.Info("game started", zap.String("game_id", gameID))
	return started, nil
}

// OnGameResultSet records the final result of a game and settles every bet
// depending on it. Repeating the call with the same result only re-runs
// settlement; a different result is rejected.
func (e *Engine) OnGameResultSet(ctx context.Context, gameID string, result domain.Outcome) (*Report, error) {
	if !result.Valid() {
		return nil, domain.ErrInvalidRequest.Withf("result must be one of home, away, draw")
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		switch g.Status {
		case domain.GameFinished:
			if *g.Result != result {
				return domain.ErrResultConflict.Withf("game %s already finished with result %s", g.ID, *g.Result)
			}
			return nil
		case domain.GameCancelled:
			return domain.ErrResultConflict.Withf("game %s was cancelled", g.ID)
		}
		g.Status = domain.GameFinished
		g.Result = &result
		g.UpdatedAt = e.now()
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, fmt.Errorf("set result: %w", err)
	}
	e.log.Info("game result set", zap.String("game_id", gameID), zap.String("result", string(result)))
	return e.OnGameFinished(ctx, gameID)
}

// OnGameCancelled voids a game. Every pending bet with a leg on it is
// cancelled and its stake refunded.
func (e *Engine) OnGameCancelled(ctx context.Context, gameID string) (*Report, error) {
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		switch g.Status {
		case domain.GameCancelled:
			return nil
		case domain.GameFinished:
			return domain.ErrResultConflict.Withf("game %s already finished", g.ID)
		}
		g.Status = domain.GameCancelled
		g.UpdatedAt = e.now()
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel game: %w", err)
	}
	e.log.Info("game cancelled", zap.String("game_id", gameID))
	return e.OnGameFinished(ctx, gameID)
}

// OnGameFinished settles single bets on the game first, then re-evaluates
// every accumulator with a leg on it. A failure on one bet is logged and
// counted; the rest of the batch still runs.
func (e *Engine) OnGameFinished(ctx context.Context, gameID string) (*Report, error) {
	g, err := e.store.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != domain.GameFinished && g.Status != domain.GameCancelled {
		return nil, domain.ErrGameNotOpen.Withf("game %s is %s, nothing to settle", g.ID, g.Status)
	}

	report := &Report{GameID: gameID}
	for _, kind := range []domain.BetKind{domain.BetSingle, domain.BetMulti} {
		ids, err := e.store.PendingBetIDs(ctx, gameID, kind)
		if err != nil {
			return report, fmt.Errorf("list pending %s bets: %w", kind, err)
		}
		for _, id := range ids {
			settled, err := e.settleBet(ctx, id)
			switch {
			case err != nil:
				report.Failed++
				metrics.SettlementFailures.Inc()
				e.log.Error("settle bet failed",
					zap.String("bet_id", id),
					zap.String("game_id", gameID),
					zap.Error(err))
			case settled:
				report.Settled++
			default:
				report.Awaiting++
			}
		}
	}

	e.log.Info("game settled",
		zap.String("game_id", gameID),
		zap.Int("settled", report.Settled),
		zap.Int("awaiting_legs", report.Awaiting),
		zap.Int("failed", report.Failed))
	return report, nil
}

// settleBet resolves one bet. It reports false when the bet was already
// terminal or still has undecided legs.
func (e *Engine) settleBet(ctx context.Context, betID string) (bool, error) {
	var outcome *notify.Outcome
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		bet, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status.Terminal() {
			return nil
		}
		status, decided, err := verdict(ctx, tx, bet)
		if err != nil || !decided {
			return err
		}

		payout := decimal.Zero
		if status == domain.BetWon {
			payout = domain.Payout(bet.Stake, bet.CombinedOdds)
		}
		now := e.now()
		ok, err := tx.FinalizeBet(ctx, bet.ID, status, payout, now)
		if err != nil || !ok {
			return err
		}

		switch status {
		case domain.BetWon:
			if _, err := e.ledger.Credit(ctx, tx, bet.UserID, payout, domain.EntryPayout, bet.ID); err != nil {
				return err
			}
		case domain.BetCancelled:
			if _, err := e.ledger.Credit(ctx, tx, bet.UserID, bet.Stake, domain.EntryRefund, bet.ID); err != nil {
				return err
			}
		}
		outcome = &notify.Outcome{
			BetID:     bet.ID,
			UserID:    bet.UserID,
			Product:   "sportsbook_" + string(bet.Kind()),
			Status:    string(status),
			Stake:     bet.Stake,
			Payout:    payout,
			SettledAt: now,
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if outcome == nil {
		return false, nil
	}

	metrics.BetsSettled.WithLabelValues(outcome.Product, outcome.Status).Inc()
	if e.notifier != nil {
		e.notifier.Notify(*outcome)
	}
	return true, nil
}

// verdict reads the persisted state of every leg. decided is false while any
// leg is still waiting for its result.
func verdict(ctx context.Context, tx store.Tx, bet *domain.Bet) (domain.BetStatus, bool, error) {
	switch slip := bet.Slip.(type) {
	case domain.Single:
		g, err := tx.Game(ctx, slip.Selection.GameID)
		if err != nil {
			return "", false, err
		}
		return legStatus(g, slip.Selection)
	case domain.Multi:
		// A void leg voids the accumulator at once; otherwise every leg must
		// be decided.
		status, decided := domain.BetWon, true
		for _, leg := range slip.Legs {
			g, err := tx.Game(ctx, leg.GameID)
			if err != nil {
				return "", false, err
			}
			s, ok, err := legStatus(g, leg)
			if err != nil {
				return "", false, err
			}
			switch {
			case !ok:
				decided = false
			case s == domain.BetCancelled:
				return domain.BetCancelled, true, nil
			case s == domain.BetLost:
				status = domain.BetLost
			}
		}
		if !decided {
			return "", false, nil
		}
		return status, true, nil
	default:
		return "", false, fmt.Errorf("bet %s has unknown slip %T", bet.ID, bet.Slip)
	}
}

func legStatus(g *domain.Game, sel domain.Selection) (domain.BetStatus, bool, error) {
	switch {
	case g.Status == domain.GameCancelled:
		return domain.BetCancelled, true, nil
	case !g.Decided():
		return "", false, nil
	case *g.Result == sel.Outcome:
		return domain.BetWon, true, nil
	default:
		return domain.BetLost, true, nil
	}
}

// Sweep re-runs settlement for every decided game that still has pending
// bets, picking up bets whose earlier settlement attempt failed.
func (e *Engine) Sweep(ctx context.Context) error {
	ids, err := e.store.GamesAwaitingSettlement(ctx)
	if err != nil {
		return fmt.Errorf("list games awaiting settlement: %w", err)
	}
	for _, id := range ids {
		if _, err := e.OnGameFinished(ctx, id); err != nil {
			e.log.Error("sweep game failed", zap.String("game_id", id), zap.Error(err))
		}
	}
	return nil
}

// StartScheduler runs Sweep on the given cron spec until the returned cron is stopped.
func (e *Engine) StartScheduler(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := e.Sweep(ctx); err != nil {
			e.log.Error("settlement sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule settlement sweep: %w", err)
	}
	c.Start()
	e.log.Info("settlement sweep scheduled", zap.String("spec", spec))
	return c, nil
}
