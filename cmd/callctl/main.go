package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/config"
	"callcoin-platform/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cmd := newRootCommand(openFromEnv)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "callctl: %v\n", err)
		os.Exit(1)
	}
}

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr).With("process", "callctl")
	return app.Open(ctx, cfg, log)
}
