package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/tradesim/internal/clock"
	"github.com/efreitasn/tradesim/internal/config"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/feed"
	"github.com/efreitasn/tradesim/internal/handler"
	"github.com/efreitasn/tradesim/internal/liquidity"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/pricepath"
	"github.com/efreitasn/tradesim/internal/service"
	"github.com/efreitasn/tradesim/internal/store"
	"github.com/efreitasn/tradesim/internal/store/migrations"
)

// taskQueueSize bounds the background task queue shared by webhooks and
// the liquidity manager.
const taskQueueSize = 1024

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, logCloser := config.NewLogger(cfg)
	defer logCloser.Close()
	slog.SetDefault(logger)

	defaults := config.BuiltinDefaults()
	if cfg.SimulationDefaults != "" {
		defaults, err = config.LoadSimulationDefaults(cfg.SimulationDefaults)
		if err != nil {
			logger.Error("failed to load simulation defaults", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	seed := uint64(time.Now().UnixNano())

	// Background work: webhook deliveries and staggered liquidity orders.
	dispatcher := clock.NewDispatcher(cfg.Workers, taskQueueSize, logger)
	dispatcher.Start(ctx)

	o := oracle.New(st, st, st, st)
	// Trades and payouts check balances against the uncached ledger.
	direct := o
	if cs, ok := st.(*store.CachedStore); ok {
		direct = oracle.New(cs.Primary(), st, st, st)
	}
	webhookSvc := service.NewWebhookService(st, dispatcher, logger, cfg.WebhookTimeout)
	hub := feed.NewHub(logger)
	go hub.Run(ctx)

	matcher := engine.NewMatcher(st, direct, engine.Listeners{webhookSvc, hub})
	matcher.SetLogger(logger)

	var scheduler liquidity.Scheduler
	if cfg.LiquidityStagger {
		scheduler = dispatcher
	}
	agent := liquidity.NewAgent(matcher, o, st, scheduler, logger, seed)

	clk := clock.New(st, matcher, agent, direct, dispatcher, hub, logger, cfg.TickInterval, cfg.Workers)
	clk.Start(ctx)

	router := handler.NewRouter(handler.Services{
		Simulations: service.NewSimulationService(st, o, clk, pricepath.NewGenerator(seed), defaults, logger),
		Orders:      service.NewOrderService(matcher, st),
		Stocks:      service.NewStockService(st, matcher, o),
		Webhooks:    webhookSvc,
		Feed:        hub.HandleWS,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Queued deliveries and liquidity orders run before the clock stops.
	dispatcher.Close()
	cancel()

	logger.Info("server stopped")
}

// openStore returns the in-memory store, or Postgres when DATABASE_URL is
// set, wrapped in the Redis cache when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	var st store.Store = store.NewMemory()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := store.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}
		st = store.NewPostgresStore(pool)
		logger.Info("using postgres store")
	}

	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("using redis cache", slog.Duration("ttl", cfg.CacheTTL))
	}

	return st, cleanup, nil
}
