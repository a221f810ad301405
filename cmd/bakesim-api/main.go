package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bakesim/internal/api"
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
	logger.Info("reference data loaded",
		"demand_entries", ref.DemandEntries(),
		"ingredients", ref.IngredientEntries(),
		"wage_rates", ref.WageEntries())

	gameSvc := game.NewService(pool, ref, logger)
	if cfg.SeedFile != "" {
		if err := gameSvc.SeedScenario(ctx, cfg.SeedFile, false); err != nil {
			logger.Error("scenario seed failed", "path", cfg.SeedFile, "err", err)
			os.Exit(1)
		}
	}

	server := api.New(cfg, logger, gameSvc)
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

	logger.Info("bakesim api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
