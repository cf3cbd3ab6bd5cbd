// Package testcontainers starts the throwaway Redis instance used by the
// integration tests of the shared cache tier and the warm-up task queue.
//
// Usage:
//
//	func TestSharedCache(t *testing.T) {
//	    env := testcontainers.NewRedisEnv(t)
//
//	    c := cache.NewRedis[models.RouteResult](env.Client, "test:", time.Minute, nil)
//	    ...
//	}
//
// Docker must be available. Tests using it skip themselves with -short.
package testcontainers

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultRedisPort = "6379"
	defaultTimeout   = 60 * time.Second
)

// RedisContainer is a running Redis container.
type RedisContainer struct {
	testcontainers.Container
	Host string
	Port int
}

// NewRedisContainer starts a Redis container and waits until it accepts
// connections.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{defaultRedisPort + "/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, defaultRedisPort)
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		return nil, fmt.Errorf("failed to parse port: %w", err)
	}

	return &RedisContainer{
		Container: container,
		Host:      host,
		Port:      port,
	}, nil
}

// Address returns host:port.
func (c *RedisContainer) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisEnv bundles a container with a connected client. Both are released
// through t.Cleanup.
type RedisEnv struct {
	Container *RedisContainer
	Client    *redis.Client
	Ctx       context.Context
}

// NewRedisEnv starts Redis for the duration of the test. It skips the test
// in short mode.
func NewRedisEnv(t *testing.T) *RedisEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)

	container, err := NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("failed to create redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate redis container: %v", err)
		}
	})

	client := redis.NewClient(&redis.Options{Addr: container.Address()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("failed to close redis client: %v", err)
		}
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not reachable: %v", err)
	}

	return &RedisEnv{
		Container: container,
		Client:    client,
		Ctx:       ctx,
	}
}
