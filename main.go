package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/pkg/logger"
	"github.com/gosom/courier-routes/runner"
	"github.com/gosom/courier-routes/runner/filerunner"
	"github.com/gosom/courier-routes/runner/redisrunner"
	"github.com/gosom/courier-routes/runner/webrunner"
)

func main() {
	_ = godotenv.Load() // Load .env file if present
	ctx, cancel := context.WithCancel(context.Background())

	cfg := runner.ParseConfig()
	runner.Banner(cfg)

	log := logger.New(cfg.Debug)
	defer func() { _ = log.Sync() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		log.Info("received signal, shutting down")

		cancel()
	}()

	runnerInstance, err := runnerFactory(cfg, log)
	if err != nil {
		cancel()
		log.Error("failed to start", zap.String("mode", cfg.ModeName()), zap.Error(err))

		runner.Telemetry().Close()

		os.Exit(1)
	}

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run failed", zap.String("mode", cfg.ModeName()), zap.Error(err))

		_ = runnerInstance.Close(ctx)
		runner.Telemetry().Close()

		cancel()

		os.Exit(1)
	}

	_ = runnerInstance.Close(ctx)
	runner.Telemetry().Close()

	cancel()

	os.Exit(0)
}

func runnerFactory(cfg *runner.Config, log *zap.Logger) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeFile:
		return filerunner.New(cfg, log)
	case runner.RunModeWeb:
		return webrunner.New(cfg, log)
	case runner.RunModeWorker:
		return redisrunner.New(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
