package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stockify/internal/cli"
	"stockify/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	client := cli.NewClient(cfg.APIBaseURL)

	tick := func() error {
		tickCtx, cancel := context.WithTimeout(ctx, cfg.TickEvery+30*time.Second)
		defer cancel()
		report, err := client.Advance(tickCtx, cfg.AdminToken, cfg.PeriodsPerTick)
		if err != nil {
			return err
		}
		logger.Info("market tick complete",
			"advanced", len(report.Advanced),
			"skipped", len(report.Skipped),
			"accounts", report.Accounts,
		)
		return nil
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("STOCKIFY_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := tick(); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "api", cfg.APIBaseURL)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := tick(); err != nil {
				logger.Error("market tick failed", "err", err)
				continue
			}
		}
	}
}
