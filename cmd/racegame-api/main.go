package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"racegame/internal/api"
	"racegame/internal/config"
	"racegame/internal/db"
	"racegame/internal/hub"
	"racegame/internal/metrics"
	"racegame/internal/race"
	"racegame/internal/store"
	"racegame/internal/wallet"
)

type walletService interface {
	api.Verifier
	race.Funds
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	var ws walletService
	if cfg.DevWallet {
		logger.Warn("dev wallet enabled: bearer tokens are trusted as addresses, payments and payouts are only logged")
		ws = wallet.Dev{Log: logger}
	} else {
		ws = wallet.NewClient(cfg.WalletURL, cfg.WalletAPIKey)
	}

	m := metrics.New()
	var engine *race.Engine
	h := hub.New(logger, func() any {
		return map[string]any{
			"game":  engine.GameState(),
			"cars":  engine.Cars(),
			"pools": engine.Pools(),
		}
	})

	opts := []race.Option{
		race.WithFunds(ws),
		race.WithObserver(m),
		race.WithObserver(h),
	}
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		opts = append(opts, race.WithStore(store.NewPostgres(pool, logger)))
	} else {
		logger.Warn("DATABASE_URL not set: state is kept in memory only")
	}

	engine, err = race.NewEngine(cfg.Race, logger, opts...)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	if err := engine.Load(ctx); err != nil {
		logger.Error("state load failed", "err", err)
		os.Exit(1)
	}

	go h.Run(ctx)
	go tickLoop(ctx, logger, engine, cfg.TickEvery)

	server := api.New(logger, engine, ws, api.WithHub(h), api.WithMetrics(m))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	g := engine.GameState()
	logger.Info("race api listening", "addr", cfg.Addr, "owner", cfg.Race.Owner, "phase", g.Phase.String())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// tickLoop ends expired rounds even when no player operation arrives, and
// retries withdrawals the wallet has not confirmed yet.
func tickLoop(ctx context.Context, logger *slog.Logger, engine *race.Engine, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d, err := engine.Tick(ctx)
			if err != nil {
				logger.Error("round tick failed", "err", err)
				continue
			}
			if d != nil {
				logger.Info("round ended on timer", "round", d.Round, "status", d.Status, "prize_pool", d.PrizePool)
			}
			if _, err := engine.SettlePending(ctx); err != nil {
				logger.Warn("pending transfers not settled", "err", err)
			}
		}
	}
}
