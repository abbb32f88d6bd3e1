package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tickwrangler/config"
	"tickwrangler/internal/collector"
	"tickwrangler/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	runID := uuid.NewString()

	// zap logger
	log, err := logger.New(cfg.Log, zap.String("run_id", runID))
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting wrangler", zap.String("mode", cfg.Mode))
	if err := collector.Run(ctx, cfg, runID, log); err != nil {
		log.Error("wrangler failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("wrangler stopped")
}
