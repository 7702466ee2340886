package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/campusfeed/internal/cli"
	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("campusfeed", cfg.LogLevel, logger.WithFormat(cfg.LogFormat))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := cli.NewEnv(cfg, log, os.Stdin, os.Stdout, os.Stderr)
	defer env.Close(context.WithoutCancel(ctx))

	return cli.Root(env).Execute(ctx, os.Stderr, args)
}
