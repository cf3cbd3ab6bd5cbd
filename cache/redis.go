package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis stores JSON encoded values in Redis with a TTL, so instances behind a
// load balancer share results. Errors are logged and reported as misses.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis[V] {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}

		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		r.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	return v, true
}

func (r *Redis[V]) Put(ctx context.Context, key string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("cache entry not encodable", zap.String("key", key), zap.Error(err))
		return
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}
