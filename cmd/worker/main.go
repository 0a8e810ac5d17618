package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/config"
	"callcoin-platform/internal/jobs"
	"callcoin-platform/pkg/logger"

	"github.com/joho/godotenv"
)

// worker runs meter ticks and connect timeouts from the asynq queues, and the
// reaper loop. Several workers may run; the reaper elects one per round.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env).With("process", "worker")
	slog.SetDefault(log)

	a, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Backends.Redis == nil {
		log.Error("worker requires redis")
		os.Exit(1)
	}
	a.ListenConfig(rootCtx)

	handlers := jobs.NewHandlers(a.Meter, a.Calls, logger.Component(log, "jobs"))
	srv := jobs.NewServer(app.RedisOpt(cfg), cfg.Worker.Concurrency, log)
	if err := srv.Start(jobs.NewMux(handlers)); err != nil {
		log.Error("job server start failed", "err", err)
		os.Exit(1)
	}
	log.Info("worker started", "concurrency", cfg.Worker.Concurrency, "reaper_interval", cfg.Metering.ReaperInterval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Reaper.Run(rootCtx, cfg.Metering.ReaperInterval)
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")
	srv.Shutdown()
	wg.Wait()
}
