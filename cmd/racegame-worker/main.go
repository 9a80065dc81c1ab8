package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"racegame/internal/config"
	"racegame/internal/db"
	"racegame/internal/race"
	"racegame/internal/store"
	"racegame/internal/wallet"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
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

	var funds race.Funds
	if cfg.DevWallet {
		logger.Warn("dev wallet enabled: payouts are only logged")
		funds = wallet.Dev{Log: logger}
	} else {
		funds = wallet.NewClient(cfg.WalletURL, cfg.WalletAPIKey)
	}

	st := store.NewPostgres(pool, logger)
	engine, err := race.NewEngine(cfg.Race, logger, race.WithStore(st), race.WithFunds(funds))
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	if cfg.RunOnce {
		if err := tick(ctx, logger, engine); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		if err := verify(ctx, logger, st, cfg.Race); err != nil {
			logger.Error("journal verification failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()
	var verifyC <-chan time.Time
	if cfg.VerifyEvery > 0 {
		vt := time.NewTicker(cfg.VerifyEvery)
		defer vt.Stop()
		verifyC = vt.C
	}

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "verify_every", cfg.VerifyEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := tick(ctx, logger, engine); err != nil {
				logger.Error("round tick failed", "err", err)
			}
		case <-verifyC:
			if err := verify(ctx, logger, st, cfg.Race); err != nil {
				logger.Error("journal verification failed", "err", err)
			}
		}
	}
}

// tick ends an expired round and retries withdrawals still waiting on the
// wallet.
func tick(ctx context.Context, logger *slog.Logger, engine *race.Engine) error {
	d, err := engine.Tick(ctx)
	if err != nil {
		return err
	}
	if d != nil {
		logger.Info("round ended on timer", "round", d.Round, "status", d.Status, "prize_pool", d.PrizePool)
	}
	closed, err := engine.SettlePending(ctx)
	if closed > 0 {
		logger.Info("pending transfers settled", "count", closed)
	}
	return err
}

// verify rebuilds the state from the journal and compares it with the stored
// snapshot. Both come from one read transaction.
func verify(ctx context.Context, logger *slog.Logger, st *store.Postgres, cfg race.Config) error {
	snapshot, entries, err := st.Consistent(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	if err := race.Verify(cfg, snapshot, entries, nil, nil); err != nil {
		return err
	}
	logger.Info("journal verified", "entries", len(entries), "seq", snapshot.Seq)
	return nil
}
