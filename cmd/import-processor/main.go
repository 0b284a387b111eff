// Package main запускает воркер обработки чанков импорта из шины.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	importprocessor "github.com/magabrotheeeer/mch-subscription-engine/internal/app/import-processor"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting import-processor", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := importprocessor.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("import-processor stopped gracefully")
}
