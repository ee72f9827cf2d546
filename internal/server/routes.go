package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wager/internal/domain"
	"wager/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.App.Group("/api/v1")

	api.Get("/games", s.listGamesHandler)
	api.Post("/games", s.createGameHandler)
	api.Get("/games/:gameId", s.getGameHandler)
	api.Put("/games/:gameId/odds", s.updateOddsHandler)
	api.Post("/games/:gameId/start", s.startGameHandler)
	api.Post("/games/:gameId/result", s.setResultHandler)
	api.Post("/games/:gameId/cancel", s.cancelGameHandler)

	api.Post("/bets/single", s.placeSingleBetHandler)
	api.Post("/bets/multi", s.placeMultiBetHandler)
	api.Get("/bets/:betId", s.getBetHandler)

	api.Get("/user/:userId/bets", s.userBetsHandler)
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.adjustBalanceHandler)
	api.Get("/user/:userId/ledger", s.ledgerHistoryHandler)

	crash := api.Group("/crash")
	crash.Get("/state", s.getCrashStateHandler)
	crash.Post("/bet", s.placeCrashBetHandler)
	crash.Post("/cashout", s.cashoutHandler)
	crash.Get("/history", s.crashHistoryHandler)
	crash.Post("/verify", s.verifyRoundHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"phase":             s.crash.State().Phase,
			"connected_clients": s.hub.ClientCount(),
		},
	}
	status := fiber.StatusOK

	if s.db != nil {
		h := s.db.Health()
		if h["status"] != "up" {
			status = fiber.StatusServiceUnavailable
		}
		health["database"] = h
	} else if err := s.store.Ping(c.UserContext()); err != nil {
		status = fiber.StatusServiceUnavailable
		health["store"] = fiber.Map{"status": "down"}
	} else {
		health["store"] = fiber.Map{"status": "up"}
	}

	if s.cache != nil {
		h := s.cache.Health()
		if h["status"] != "up" {
			status = fiber.StatusServiceUnavailable
		}
		health["cache"] = h
	}

	return c.Status(status).JSON(health)
}

// fail writes err as a JSON error. Business errors keep their message;
// storage failures are reported generically and logged with their cause.
func (s *FiberServer) fail(c *fiber.Ctx, err error) error {
	kind := domain.KindOf(err)
	if kind == domain.KindStorage {
		s.log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(statusFor(kind)).JSON(errorBody(err))
}

func errorBody(err error) fiber.Map {
	code, msg := domain.ErrStorage.Code, domain.ErrStorage.Msg
	var de *domain.Error
	if domain.KindOf(err) != domain.KindStorage && errors.As(err, &de) {
		code, msg = de.Code, de.Msg
	}
	return fiber.Map{"error": msg, "code": code}
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return fiber.StatusBadRequest
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindStateConflict:
		return fiber.StatusConflict
	case domain.KindInsufficientFunds:
		return fiber.StatusPaymentRequired
	default:
		return fiber.StatusServiceUnavailable
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  domain.ErrInvalidRequest.Code,
	})
}

func queryLimit(c *fiber.Ctx, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

const commandTimeout = 10 * time.Second

// wsCommand is a client message on the crash websocket.
type wsCommand struct {
	Type          string           `json:"type"`
	Stake         decimal.Decimal  `json:"stake"`
	AutoCashOutAt *decimal.Decimal `json:"auto_cash_out_at"`
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "")

	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	client.SendState(s.log, s.crash.State())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket closed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			client.Send(s.log, "error", fiber.Map{"error": "invalid message", "code": domain.ErrInvalidRequest.Code})
			continue
		}

		switch cmd.Type {
		case "place_bet", "cashout":
			if userID == "" {
				client.Send(s.log, "error", fiber.Map{"error": "user_id is required", "code": domain.ErrInvalidRequest.Code})
				continue
			}
			s.handleCommand(client, cmd)
		case "state":
			client.SendState(s.log, s.crash.State())
		case "ping":
			client.Send(s.log, "pong", nil)
		}
	}
}

func (s *FiberServer) handleCommand(client *game.Client, cmd wsCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch cmd.Type {
	case "place_bet":
		result, err = s.crash.PlaceCrashBet(ctx, game.CrashBetRequest{
			UserID:        client.UserID(),
			Stake:         cmd.Stake,
			AutoCashOutAt: cmd.AutoCashOutAt,
		})
	case "cashout":
		result, err = s.crash.CashOut(ctx, client.UserID())
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindStorage {
			s.log.Error("websocket command failed", zap.String("type", cmd.Type), zap.Error(err))
		}
		client.Send(s.log, "error", errorBody(err))
		return
	}
	client.Send(s.log, cmd.Type, result)
}
