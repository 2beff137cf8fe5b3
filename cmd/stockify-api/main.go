package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockify/internal/api"
	"stockify/internal/config"
	"stockify/internal/db"
	"stockify/internal/game"
	"stockify/internal/insight"
	"stockify/internal/metricfeed"
	"stockify/internal/store"
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

	var st game.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
		logger.Info("using postgres store")
	} else {
		fs, err := store.NewFile(cfg.DataDir)
		if err != nil {
			logger.Error("file store init failed", "err", err, "dir", cfg.DataDir)
			os.Exit(1)
		}
		st = fs
		logger.Info("using file store", "dir", cfg.DataDir)
	}

	var provider game.MetricProvider
	seed := cfg.Entities
	if cfg.SpotifyClientID != "" {
		provider = metricfeed.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	} else {
		static, err := metricfeed.ParseStatic(cfg.StaticMetrics)
		if err != nil {
			logger.Error("parse static metrics", "err", err)
			os.Exit(1)
		}
		provider = static
		if len(seed) == 0 {
			seed = static.IDs()
		}
	}

	gameSvc := game.NewService(st, provider, logger, cfg.Engine)
	if err := gameSvc.Restore(ctx); err != nil {
		logger.Error("market restore failed", "err", err)
		os.Exit(1)
	}
	gameSvc.SeedDefaults(ctx, seed)

	analyst, err := insight.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("insight client init failed", "err", err)
		os.Exit(1)
	}
	if !analyst.Enabled() {
		logger.Info("insight disabled, GEMINI_API_KEY not set")
	}

	server := api.New(api.Options{AdminToken: cfg.AdminToken}, logger, gameSvc, analyst)
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

	logger.Info("stockify api listening", "addr", cfg.Addr, "entities", len(gameSvc.EntityIDs()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
