package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/campusfeed/internal/app"
	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadMockAPI()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("campusfeed-mockapi", cfg.LogLevel, logger.WithFormat(cfg.LogFormat))
	log.Info("starting campusfeed mock api",
		slog.String("environment", cfg.Environment),
		slog.String("version", app.Version),
		slog.Int("http_port", cfg.HTTPPort),
		slog.Bool("auto_verify", cfg.AutoVerify),
	)

	backend, err := app.NewMockAPI(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize mock api: %w", err)
	}

	// Canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := backend.Run(ctx); err != nil {
		return fmt.Errorf("run mock api: %w", err)
	}

	log.Info("campusfeed mock api stopped")
	return nil
}
