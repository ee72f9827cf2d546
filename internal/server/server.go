package server

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"wager/internal/betting"
	"wager/internal/cache"
	"wager/internal/database"
	"wager/internal/game"
	"wager/internal/ledger"
	"wager/internal/settlement"
	"wager/internal/store"
)

// Deps are the components the HTTP layer adapts. DB and Cache are optional:
// the memory store runs without Postgres and a single instance without Redis.
type Deps struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Betting    *betting.Service
	Settlement *settlement.Engine
	Crash      *game.Manager
	Hub        *game.Hub
	DB         database.Service
	Cache      cache.Service
	// RequestsPerMinute caps requests per client IP. Zero disables the limiter.
	RequestsPerMinute int
}

type FiberServer struct {
	*fiber.App

	store      store.Store
	ledger     *ledger.Ledger
	betting    *betting.Service
	settlement *settlement.Engine
	crash      *game.Manager
	hub        *game.Hub
	db         database.Service
	cache      cache.Service
	validate   *validator.Validate
	log        *zap.Logger
}

func New(name string, d Deps, log *zap.Logger) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  name,
			AppName:       name,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
			// Path params outlive the request as wallet keys and ledger rows.
			Immutable: true,
		}),

		store:      d.Store,
		ledger:     d.Ledger,
		betting:    d.Betting,
		settlement: d.Settlement,
		crash:      d.Crash,
		hub:        d.Hub,
		db:         d.DB,
		cache:      d.Cache,
		validate:   validator.New(),
		log:        log.Named("http"),
	}

	server.App.Use(recover.New())
	if d.RequestsPerMinute > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        d.RequestsPerMinute,
			Expiration: 1 * time.Minute,
		}))
	}

	return server
}

// Shutdown stops accepting requests and closes the connections the server owns.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")

	err := s.App.ShutdownWithTimeout(10 * time.Second)

	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil {
			s.log.Warn("failed to close redis", zap.Error(cerr))
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.log.Warn("failed to close database", zap.Error(cerr))
		}
	}
	return err
}
