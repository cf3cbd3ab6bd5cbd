package redisrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/cache"
	"github.com/gosom/courier-routes/location"
	"github.com/gosom/courier-routes/redis/config"
	"github.com/gosom/courier-routes/runner"
	"github.com/gosom/courier-routes/testcontainers"
)

func TestNewValidatesMode(t *testing.T) {
	_, err := New(&runner.Config{RunMode: runner.RunModeWeb}, zap.NewNop())
	assert.ErrorIs(t, err, runner.ErrInvalidRunMode)

	_, err = New(&runner.Config{RunMode: runner.RunModeWorker}, zap.NewNop())
	assert.ErrorIs(t, err, runner.ErrInvalidConfig)
}

func TestRunStopsOnCancel(t *testing.T) {
	env := testcontainers.NewRedisEnv(t)

	cfg := &runner.Config{
		RunMode:           runner.RunModeWorker,
		APIKey:            "key",
		LinkCacheTTL:      cache.DefaultLinkTTL,
		LinkCacheSize:     cache.DefaultLinkCapacity,
		RouteCacheTTL:     cache.DefaultRouteTTL,
		RouteCacheSize:    cache.DefaultRouteCapacity,
		RouteCallBudget:   20,
		ResolveCallBudget: location.DefaultCallBudget,
		Redis: &config.RedisConfig{
			Host:            env.Container.Host,
			Port:            env.Container.Port,
			Workers:         1,
			MaxRetries:      1,
			RetryInterval:   time.Second,
			RetentionPeriod: time.Hour,
			QueuePriorities: config.DefaultQueuePriorities,
		},
	}

	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	assert.NoError(t, r.Close(context.Background()))
}
