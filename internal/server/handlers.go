package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wager/internal/betting"
	"wager/internal/domain"
)

type createGameRequest struct {
	ID       string      `json:"id"`
	HomeTeam string      `json:"home_team" validate:"required"`
	AwayTeam string      `json:"away_team" validate:"required"`
	StartsAt time.Time   `json:"starts_at"`
	Odds     domain.Odds `json:"odds"`
}

type resultRequest struct {
	Result domain.Outcome `json:"result" validate:"required,oneof=home away draw"`
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=200"`
}

// validOdds accepts zero for an outcome that is not offered; anything offered
// must pay more than the stake.
func validOdds(o domain.Odds) bool {
	one := decimal.NewFromInt(1)
	offered := 0
	for _, v := range []decimal.Decimal{o.Home, o.Draw, o.Away} {
		if v.IsZero() {
			continue
		}
		if v.LessThanOrEqual(one) {
			return false
		}
		offered++
	}
	return offered > 0
}

// Sportsbook games

func (s *FiberServer) listGamesHandler(c *fiber.Ctx) error {
	games, err := s.store.Games(c.UserContext(), domain.GameStatus(c.Query("status")))
	if err != nil {
		return s.fail(c, err)
	}
	if games == nil {
		games = []*domain.Game{}
	}
	return c.JSON(games)
}

func (s *FiberServer) getGameHandler(c *fiber.Ctx) error {
	g, err := s.store.Game(c.UserContext(), c.Params("gameId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(g)
}

func (s *FiberServer) createGameHandler(c *fiber.Ctx) error {
	var req createGameRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, "home_team and away_team are required")
	}
	if !validOdds(req.Odds) {
		return badRequest(c, "offered odds must be greater than 1")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	g := &domain.Game{
		ID:        req.ID,
		HomeTeam:  req.HomeTeam,
		AwayTeam:  req.AwayTeam,
		Status:    domain.GameUpcoming,
		Odds:      req.Odds,
		StartsAt:  req.StartsAt,
		UpdatedAt: time.Now(),
	}
	if err := s.store.CreateGame(c.UserContext(), g); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(g)
}

func (s *FiberServer) updateOddsHandler(c *fiber.Ctx) error {
	var odds domain.Odds
	if err := c.BodyParser(&odds); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if !validOdds(odds) {
		return badRequest(c, "offered odds must be greater than 1")
	}
	if err := s.store.UpdateGameOdds(c.UserContext(), c.Params("gameId"), odds); err != nil {
		return s.fail(c, err)
	}
	return s.getGameHandler(c)
}

func (s *FiberServer) startGameHandler(c *fiber.Ctx) error {
	g, err := s.settlement.OnGameStarted(c.UserContext(), c.Params("gameId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(g)
}

func (s *FiberServer) setResultHandler(c *fiber.Ctx) error {
	var req resultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, "result must be one of home, away, draw")
	}
	report, err := s.settlement.OnGameResultSet(c.UserContext(), c.Params("gameId"), req.Result)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(report)
}

func (s *FiberServer) cancelGameHandler(c *fiber.Ctx) error {
	report, err := s.settlement.OnGameCancelled(c.UserContext(), c.Params("gameId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(report)
}

// Bets

func (s *FiberServer) placeSingleBetHandler(c *fiber.Ctx) error {
	var req betting.SingleBetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	placement, err := s.betting.PlaceSingleBet(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placement)
}

func (s *FiberServer) placeMultiBetHandler(c *fiber.Ctx) error {
	var req betting.MultiBetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	placement, err := s.betting.PlaceMultiBet(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placement)
}

func (s *FiberServer) getBetHandler(c *fiber.Ctx) error {
	b, err := s.store.Bet(c.UserContext(), c.Params("betId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(b)
}

func (s *FiberServer) userBetsHandler(c *fiber.Ctx) error {
	bets, err := s.store.UserBets(c.UserContext(), c.Params("userId"), queryLimit(c, 50, 500))
	if err != nil {
		return s.fail(c, err)
	}
	if bets == nil {
		bets = []*domain.Bet{}
	}
	return c.JSON(bets)
}

// Wallet

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	balance, err := s.ledger.Balance(c.UserContext(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// adjustBalanceHandler posts an operator deposit (positive) or withdrawal (negative).
func (s *FiberServer) adjustBalanceHandler(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := s.validate.Struct(req); err != nil || req.Amount.IsZero() {
		return badRequest(c, "amount must be non-zero")
	}
	entry, err := s.ledger.Adjust(c.UserContext(), c.Params("userId"), req.Amount, req.Note)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id": entry.UserID,
		"balance": entry.BalanceAfter,
		"entry":   entry,
	})
}

func (s *FiberServer) ledgerHistoryHandler(c *fiber.Ctx) error {
	entries, err := s.ledger.History(c.UserContext(), c.Params("userId"), queryLimit(c, 50, 500))
	if err != nil {
		return s.fail(c, err)
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return c.JSON(entries)
}
