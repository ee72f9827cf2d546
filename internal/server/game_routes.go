package server

import (
	"github.com/gofiber/fiber/v2"

	"wager/internal/domain"
	"wager/internal/game"
)

func (s *FiberServer) getCrashStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.crash.State())
}

func (s *FiberServer) placeCrashBetHandler(c *fiber.Ctx) error {
	var req game.CrashBetRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	placement, err := s.crash.PlaceCrashBet(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placement)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		return badRequest(c, "User ID is required")
	}
	result, err := s.crash.CashOut(c.UserContext(), req.UserID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

// crashHistoryHandler lists revealed rounds, newest first.
func (s *FiberServer) crashHistoryHandler(c *fiber.Ctx) error {
	reveals, err := s.crash.History(c.UserContext(), queryLimit(c, 20, 200))
	if err != nil {
		return s.fail(c, err)
	}
	if reveals == nil {
		reveals = []domain.Reveal{}
	}
	return c.JSON(reveals)
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	var r domain.Reveal
	if err := c.BodyParser(&r); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if r.ServerSeed == "" || r.PublicHash == "" {
		return badRequest(c, "server_seed and public_hash are required")
	}
	return c.JSON(fiber.Map{
		"round_id": r.RoundID,
		"valid":    s.crash.Verify(r),
	})
}
