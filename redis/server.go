package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/redis/config"
)

// Server wraps the asynq worker server.
type Server struct {
	server *asynq.Server
	cfg    *config.RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

func NewServer(cfg *config.RedisConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("worker")

	opt, err := cfg.AsynqOpt()
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Workers,
		RetryDelayFunc:  RetryDelay(cfg.RetryInterval),
		Queues:          cfg.QueuePriorities,
		StrictPriority:  true,
		ShutdownTimeout: 10 * time.Second,
		Logger:          logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	return &Server{
		server: srv,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// RetryDelay backs off exponentially from one second, capped at ceiling.
func RetryDelay(ceiling time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n > 30 {
			return ceiling
		}

		delay := time.Duration(1<<uint(n)) * time.Second
		if delay > ceiling {
			delay = ceiling
		}

		return delay
	}
}

// Start processes tasks from mux in the background.
func (s *Server) Start(mux *asynq.ServeMux) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.logger.Info("worker started", zap.Int("concurrency", s.cfg.Workers))

	return nil
}

// Shutdown waits for in flight tasks up to the shutdown timeout.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.server.Shutdown()
}
