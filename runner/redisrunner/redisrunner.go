// Package redisrunner processes route warm-up tasks from Redis.
package redisrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/redis"
	"github.com/gosom/courier-routes/redis/tasks"
	"github.com/gosom/courier-routes/runner"
	"github.com/gosom/courier-routes/tlmt"
)

const healthInterval = 30 * time.Second

// RedisRunner implements runner.Runner on top of the asynq worker server.
type RedisRunner struct {
	cfg    *runner.Config
	svc    *runner.Services
	server *redis.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// New builds the worker. Computed routes land in the shared Redis cache so
// the API instances serve them without recomputing.
func New(cfg *runner.Config, logger *zap.Logger) (*RedisRunner, error) {
	if cfg.RunMode != runner.RunModeWorker {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.Redis == nil {
		return nil, fmt.Errorf("%w: worker mode requires Redis", runner.ErrInvalidConfig)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := runner.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	server, err := redis.NewServer(cfg.Redis, logger)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("failed to create Redis server: %w", err)
	}

	mux := asynq.NewServeMux()
	tasks.NewHandler(svc.Routes, logger).Register(mux)

	return &RedisRunner{
		cfg:    cfg,
		svc:    svc,
		server: server,
		mux:    mux,
		logger: logger.Named("redisrunner"),
	}, nil
}

// Run starts processing and blocks until ctx is done.
func (r *RedisRunner) Run(ctx context.Context) error {
	runner.SendEvent(ctx, func() tlmt.Event {
		return tlmt.NewStartEvent(r.cfg.ModeName())
	})

	if err := r.server.Start(r.mux); err != nil {
		return err
	}

	r.monitorHealth(ctx)

	return nil
}

// Close waits for in flight tasks, then releases the connections.
func (r *RedisRunner) Close(context.Context) error {
	r.logger.Info("shutting down worker")

	r.server.Shutdown()

	return r.svc.Close()
}

// monitorHealth logs when the Redis connection goes bad.
func (r *RedisRunner) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.svc.Redis.IsHealthy(ctx) {
				r.logger.Warn("redis connection is not healthy")
			}
		}
	}
}
