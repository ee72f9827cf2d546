package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"wager/internal/betting"
	"wager/internal/cache"
	"wager/internal/config"
	"wager/internal/database"
	"wager/internal/game"
	"wager/internal/ledger"
	"wager/internal/logger"
	"wager/internal/notify"
	"wager/internal/server"
	"wager/internal/settlement"
	"wager/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		st store.Store
		db database.Service
	)
	switch cfg.StoreDriver {
	case "postgres":
		svc, err := database.New(ctx, cfg.Database.URL(), log)
		if err != nil {
			return err
		}
		if err := database.RunMigrations(svc.DB()); err != nil {
			svc.Close()
			return err
		}
		db = svc
		st = store.NewPostgres(svc.Pool())
	default:
		log.Warn("using in-memory store, state is lost on restart")
		st = store.NewMemory()
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// Outcome notifications
	var pub notify.Publisher = notify.LogPublisher{Log: log.Named("outcomes")}
	if cfg.Kafka.Brokers != "" {
		kp := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicBetOutcomes))
		defer kp.Close()
		pub = kp
	}
	dispatcher := notify.NewDispatcher(pub, 1024, log)
	goRun(func() { dispatcher.Run(ctx) })

	// Round events: local websocket clients, plus Redis for other instances.
	hub := game.NewHub(log)
	goRun(func() { hub.Run(ctx) })
	broadcasters := game.Broadcasters{hub}

	crashCfg := game.Config{
		WaitingDuration:   cfg.Crash.Waiting,
		BettingDuration:   cfg.Crash.Betting,
		TickInterval:      cfg.Crash.Tick,
		RetryBackoff:      cfg.Crash.RetryBackoff,
		GrowthRate:        cfg.Crash.GrowthRate,
		InstantCrashEvery: cfg.Crash.InstantCrashEvery,
		MinStake:          cfg.Limits.MinStake,
		MaxStake:          cfg.Limits.MaxStake,
		LeaseRenew:        cfg.Crash.LeaseTTL / 3,
	}

	var (
		rc    cache.Service
		relay *cache.RoundRelay
	)
	if cfg.Redis.Addr != "" {
		svc, err := cache.New(ctx, cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, log)
		if err != nil {
			log.Warn("redis unavailable, round events stay local", zap.Error(err))
		} else {
			rc = svc
			relay = cache.NewRoundRelay(svc.Client(), log)
			goRun(func() { relay.Run(ctx) })
			broadcasters = append(broadcasters, relay)
			crashCfg.Lease = cache.NewLease(svc.Client(), cache.LeaseKey, cfg.Crash.LeaseTTL)
		}
	}
	if crashCfg.Lease == nil {
		log.Warn("no redis lease, the crash loop assumes this is the only instance")
	}

	l := ledger.New(st, log)
	bets := betting.NewService(st, l, betting.Limits{
		MinStake:      cfg.Limits.MinStake,
		MaxStake:      cfg.Limits.MaxStake,
		MaxSelections: cfg.Limits.MaxSelections,
	}, log)

	engine := settlement.NewEngine(st, l, dispatcher, log)
	sweeper, err := engine.StartScheduler(ctx, cfg.SettlementSweep)
	if err != nil {
		return err
	}

	manager := game.NewManager(crashCfg, st, l, broadcasters, log)
	if relay != nil {
		// Other instances' events reach local clients, and State while following.
		mirror := manager.Mirror()
		if raw, err := relay.Snapshot(ctx); err != nil {
			log.Warn("read relayed round snapshot", zap.Error(err))
		} else if raw != nil {
			mirror.Broadcast(game.EventState, raw)
		}
		if err := relay.Subscribe(ctx, game.Broadcasters{hub, mirror}); err != nil {
			log.Warn("redis subscribe failed", zap.Error(err))
		}
	}
	goRun(func() { manager.Run(ctx) })

	srv := server.New(cfg.ServiceName, server.Deps{
		Store:             st,
		Ledger:            l,
		Betting:           bets,
		Settlement:        engine,
		Crash:             manager,
		Hub:               hub,
		DB:                db,
		Cache:             rc,
		RequestsPerMinute: cfg.RateLimit,
	}, log)
	srv.RegisterFiberRoutes()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.HTTPPort)
		log.Info("listening", zap.String("addr", addr), zap.String("store", cfg.StoreDriver))
		errCh <- srv.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("http server failed", zap.Error(err))
	}

	// The crash loop refunds an in-flight round on the way out, so it is
	// drained before the store connections close.
	cancel()
	wg.Wait()
	<-sweeper.Stop().Done()
	if serr := srv.Shutdown(); serr != nil {
		log.Warn("shutdown", zap.Error(serr))
	}
	return err
}
