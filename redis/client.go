// Package redis wraps the asynq client and server that carry route warm-up
// tasks between the API and the workers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/redis/config"
	"github.com/gosom/courier-routes/redis/tasks"
)

const routeWarmTimeout = time.Minute

// Client enqueues tasks and owns the plain Redis connection shared with
// the cache tier.
type Client struct {
	client *asynq.Client
	rdb    *goredis.Client
	cfg    *config.RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewClient connects to Redis, retrying the first ping with backoff.
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opt, err := cfg.AsynqOpt()
	if err != nil {
		return nil, err
	}

	copts, err := cfg.ClientOptions()
	if err != nil {
		return nil, err
	}

	rdb := goredis.NewClient(copts)

	err = RetryWithBackoff(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return rdb.Ping(ctx).Err()
	}, cfg.MaxRetries, time.Second, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client: asynq.NewClient(opt),
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.Named("redis"),
	}, nil
}

// Redis returns the plain client, for the shared cache tier.
func (c *Client) Redis() goredis.UniversalClient {
	return c.rdb
}

// EnqueueTask enqueues task and returns its id.
func (c *Client) EnqueueTask(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	return info.ID, nil
}

// EnqueueRouteWarm schedules the route computation of an order. An order
// that is already queued keeps its pending task.
func (c *Client) EnqueueRouteWarm(ctx context.Context, req models.WarmRouteRequest) (string, error) {
	task, err := tasks.NewRouteWarmTask(tasks.RouteWarmPayload{
		OrderID:     req.OrderID,
		Origin:      req.Origin,
		Destination: req.Destination,
		EnqueuedAt:  time.Now().UTC(),
	},
		asynq.Queue(config.QueueDefault),
		asynq.MaxRetry(c.cfg.MaxRetries),
		asynq.Timeout(routeWarmTimeout),
		asynq.Retention(c.cfg.RetentionPeriod),
	)
	if err != nil {
		return "", err
	}

	id, err := c.EnqueueTask(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Debug("route warm-up already queued", zap.String("order_id", req.OrderID))
		return tasks.RouteWarmTaskID(req.OrderID), nil
	}

	return id, err
}

// Close closes both connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return multierr.Combine(c.client.Close(), c.rdb.Close())
}

// IsHealthy pings Redis.
func (c *Client) IsHealthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.rdb.Ping(ctx).Err() == nil
}

// RetryWithBackoff runs operation up to maxRetries times, doubling the wait
// after each failure.
func RetryWithBackoff(operation func() error, maxRetries int, initialInterval time.Duration, logger *zap.Logger) error {
	var err error

	interval := initialInterval

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}

		if i == maxRetries-1 {
			break
		}

		logger.Warn("retrying redis operation",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", interval),
			zap.Error(err),
		)

		time.Sleep(interval)
		interval *= 2
	}

	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}
