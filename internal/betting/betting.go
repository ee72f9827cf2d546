// Package betting places sportsbook wagers. A placement debits the stake,
// writes the stake ledger entry and stores the pending bet in one
// transaction.
package betting

import (
	"context"
	"errors"
	"fmt"
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

// Pick is one requested selection. Odds are never taken from the caller;
// they are read from the game when the bet is placed.
type Pick struct {
	GameID  string         `json:"game_id" validate:"required"`
	Outcome domain.Outcome `json:"outcome" validate:"required,oneof=home away draw"`
}

type SingleBetRequest struct {
	UserID  string          `json:"user_id" validate:"required"`
	GameID  string          `json:"game_id" validate:"required"`
	Outcome domain.Outcome  `json:"outcome" validate:"required,oneof=home away draw"`
	Stake   decimal.Decimal `json:"stake"`
}

type MultiBetRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Picks  []Pick          `json:"selections" validate:"required,min=2,dive"`
	Stake  decimal.Decimal `json:"stake"`
}

// Placement is the result handed back to the caller.
type Placement struct {
	Bet           *domain.Bet     `json:"bet"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}

type Limits struct {
	MinStake      decimal.Decimal
	MaxStake      decimal.Decimal
	MaxSelections int
}

type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	limits   Limits
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

func NewService(s store.Store, l *ledger.Ledger, limits Limits, log *zap.Logger) *Service {
	return &Service{
		store:    s,
		ledger:   l,
		limits:   limits,
		validate: validator.New(),
		log:      log.Named("betting"),
		now:      time.Now,
	}
}

func (s *Service) PlaceSingleBet(ctx context.Context, req SingleBetRequest) (*Placement, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.reject(validationError(err))
	}
	return s.PlaceBet(ctx, req.UserID, []Pick{{GameID: req.GameID, Outcome: req.Outcome}}, req.Stake)
}

func (s *Service) PlaceMultiBet(ctx context.Context, req MultiBetRequest) (*Placement, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, s.reject(validationError(err))
	}
	return s.PlaceBet(ctx, req.UserID, req.Picks, req.Stake)
}

// PlaceBet places a single bet for one pick and an accumulator for two or more.
func (s *Service) PlaceBet(ctx context.Context, userID string, picks []Pick, stake decimal.Decimal) (*Placement, error) {
	if err := s.checkShape(userID, picks, stake); err != nil {
		return nil, s.reject(err)
	}
	stake = stake.Round(domain.MoneyPlaces)

	bet := &domain.Bet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Stake:    stake,
		Status:   domain.BetPending,
		Payout:   decimal.Zero,
		PlacedAt: s.now(),
	}

	var balance decimal.Decimal
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		sels := make([]domain.Selection, 0, len(picks))
		for _, p := range picks {
			g, err := tx.Game(ctx, p.GameID)
			if err != nil {
				return err
			}
			if !g.OpenForBetting(bet.PlacedAt) {
				return domain.ErrGameNotOpen.Withf("game %s is %s and not open for betting", g.ID, g.Status)
			}
			odds := g.Odds.For(p.Outcome)
			if odds.LessThanOrEqual(decimal.NewFromInt(1)) {
				return domain.ErrInvalidSelection.Withf("no odds offered for %s on game %s", p.Outcome, g.ID)
			}
			sels = append(sels, domain.Selection{GameID: g.ID, Outcome: p.Outcome, Odds: odds})
		}
		if len(sels) == 1 {
			bet.Slip = domain.Single{Selection: sels[0]}
		} else {
			bet.Slip = domain.Multi{Legs: sels}
		}
		bet.CombinedOdds = domain.CombineOdds(sels)

		entry, err := s.ledger.Debit(ctx, tx, userID, stake, domain.EntryStake, bet.ID)
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		return nil, s.reject(fmt.Errorf("place bet: %w", err))
	}

	metrics.BetsPlaced.WithLabelValues(string(bet.Kind())).Inc()
	s.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("user_id", userID),
		zap.String("kind", string(bet.Kind())),
		zap.String("stake", stake.String()),
		zap.String("combined_odds", bet.CombinedOdds.String()))

	return &Placement{Bet: bet, WalletBalance: balance}, nil
}

func (s *Service) checkShape(userID string, picks []Pick, stake decimal.Decimal) error {
	if userID == "" {
		return domain.ErrInvalidRequest.Withf("user id is required")
	}
	if len(picks) == 0 {
		return domain.ErrInvalidSelection.Withf("at least one selection is required")
	}
	if s.limits.MaxSelections > 0 && len(picks) > s.limits.MaxSelections {
		return domain.ErrInvalidSelection.Withf("at most %d selections are allowed", s.limits.MaxSelections)
	}
	if !stake.IsPositive() {
		return domain.ErrInvalidRequest.Withf("stake must be positive")
	}
	if !s.limits.MinStake.IsZero() && stake.LessThan(s.limits.MinStake) {
		return domain.ErrInvalidRequest.Withf("stake must be at least %s", s.limits.MinStake)
	}
	if !s.limits.MaxStake.IsZero() && stake.GreaterThan(s.limits.MaxStake) {
		return domain.ErrInvalidRequest.Withf("stake must be at most %s", s.limits.MaxStake)
	}
	seen := make(map[string]bool, len(picks))
	for _, p := range picks {
		if p.GameID == "" || !p.Outcome.Valid() {
			return domain.ErrInvalidSelection.Withf("selection needs a game id and one of home, away, draw")
		}
		if seen[p.GameID] {
			return domain.ErrDuplicateGameInSlip.Withf("game %s appears more than once in the slip", p.GameID)
		}
		seen[p.GameID] = true
	}
	return nil
}

func (s *Service) reject(err error) error {
	metrics.BetsRejected.WithLabelValues(domain.KindOf(err).String()).Inc()
	return err
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return domain.ErrInvalidRequest.Withf("field %s failed on '%s'", f.Field(), f.Tag())
	}
	return domain.ErrInvalidRequest
}
