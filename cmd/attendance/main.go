package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/attendance-engine/internal/app"
	"github.com/example/attendance-engine/internal/config"
	"github.com/example/attendance-engine/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stdout))
}

func run(ctx context.Context, stdout io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSON(stdout, slog.LevelInfo).Error("failed to load configuration", "error", err)
		return 1
	}

	logger := logging.NewJSON(stdout, cfg.LogLevel)
	if cfg.EnvFile != "" {
		logger.Info("environment file applied", "file", cfg.EnvFile)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise application", "error", err)
		return 1
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("server encountered error", "error", err)
		return 1
	}
	logger.Info("attendance API stopped")
	return 0
}
