package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bakesim/internal/config"
	"bakesim/internal/db"
	"bakesim/internal/game"
	"bakesim/internal/refdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	ref, err := refdata.Load(cfg.DataDir)
	if err != nil {
		logger.Error("reference data load failed", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	svc := game.NewService(pool, ref, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("BAKESIM_WORKER_RUN_ONCE")), "true")
	if runOnce {
		next, err := advance(ctx, svc, cfg.AutoLock)
		if err != nil {
			logger.Error("round advance failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "current_round", next)
		return
	}

	ticker := time.NewTicker(cfg.RoundEvery)
	defer ticker.Stop()

	logger.Info("worker started", "round_every", cfg.RoundEvery.String(), "auto_lock", cfg.AutoLock)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			next, err := advance(ctx, svc, cfg.AutoLock)
			if err != nil {
				logger.Error("round advance failed", "err", err)
				continue
			}
			logger.Info("round advanced", "current_round", next)
		}
	}
}

// advance finalizes the current round and moves the game to the next one,
// optionally locking submissions while the settlement runs.
func advance(ctx context.Context, svc *game.Service, autoLock bool) (int, error) {
	if autoLock {
		if err := svc.SetLocked(ctx, true); err != nil {
			return 0, err
		}
	}
	next, err := svc.AdvanceRound(ctx)
	if err != nil {
		return 0, err
	}
	if autoLock {
		if err := svc.SetLocked(ctx, false); err != nil {
			return next, err
		}
	}
	return next, nil
}
