// Package config reads Redis connection and worker settings from the
// environment. REDIS_URL wins over the discrete REDIS_* variables.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultWorkers       = 10
	defaultRetryInterval = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetentionDays = 7

	maxDB            = 15
	maxWorkers       = 100
	minRetryInterval = time.Second
	maxRetryInterval = time.Hour
	maxMaxRetries    = 10
	maxRetentionDays = 365
)

// Queue names used by the route warm-up worker.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueuePriorities weights the worker queues.
var DefaultQueuePriorities = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

var ErrIncompleteTLS = errors.New("TLS needs both a certificate and a key file")

type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	RetentionPeriod time.Duration
	UseTLS          bool
	CertFile        string
	KeyFile         string
	CAFile          string
	QueuePriorities map[string]int
}

// Enabled reports whether REDIS_URL or REDIS_HOST is set at all.
func Enabled() bool {
	return os.Getenv("REDIS_URL") != "" || os.Getenv("REDIS_HOST") != ""
}

// NewRedisConfig builds a config from the environment.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:            envOr("REDIS_HOST", defaultHost),
		Port:            defaultPort,
		Password:        os.Getenv("REDIS_PASSWORD"),
		UseTLS:          envBool("REDIS_USE_TLS"),
		CertFile:        os.Getenv("REDIS_CERT_FILE"),
		KeyFile:         os.Getenv("REDIS_KEY_FILE"),
		CAFile:          os.Getenv("REDIS_CA_FILE"),
		QueuePriorities: make(map[string]int, len(DefaultQueuePriorities)),
	}

	for q, p := range DefaultQueuePriorities {
		cfg.QueuePriorities[q] = p
	}

	var err error

	if raw := os.Getenv("REDIS_URL"); raw != "" {
		if err := cfg.applyURL(raw); err != nil {
			return nil, err
		}
	} else {
		if cfg.Port, err = intInRange("REDIS_PORT", defaultPort, 1, 65535); err != nil {
			return nil, err
		}

		if cfg.DB, err = intInRange("REDIS_DB", 0, 0, maxDB); err != nil {
			return nil, err
		}
	}

	if cfg.Workers, err = intInRange("REDIS_WORKERS", defaultWorkers, 1, maxWorkers); err != nil {
		return nil, err
	}

	if cfg.MaxRetries, err = intInRange("REDIS_MAX_RETRIES", defaultMaxRetries, 1, maxMaxRetries); err != nil {
		return nil, err
	}

	days, err := intInRange("REDIS_RETENTION_DAYS", defaultRetentionDays, 1, maxRetentionDays)
	if err != nil {
		return nil, err
	}

	cfg.RetentionPeriod = time.Duration(days) * 24 * time.Hour

	cfg.RetryInterval = defaultRetryInterval

	if raw := os.Getenv("REDIS_RETRY_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("REDIS_RETRY_INTERVAL: %w", err)
		}

		if d < minRetryInterval || d > maxRetryInterval {
			return nil, fmt.Errorf("REDIS_RETRY_INTERVAL must be between %v and %v", minRetryInterval, maxRetryInterval)
		}

		cfg.RetryInterval = d
	}

	if cfg.UseTLS && (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, ErrIncompleteTLS
	}

	return cfg, nil
}

// applyURL reads host, port, password, db and the rediss scheme from raw.
func (c *RedisConfig) applyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	switch u.Scheme {
	case "redis":
	case "rediss":
		c.UseTLS = true
	default:
		return fmt.Errorf("invalid Redis URL scheme %q", u.Scheme)
	}

	if h := u.Hostname(); h != "" {
		c.Host = h
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port in Redis URL: %w", err)
		}

		c.Port = port
	}

	if pw, ok := u.User.Password(); ok {
		c.Password = pw
	}

	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 || n > maxDB {
			return fmt.Errorf("invalid database number %q in Redis URL", db)
		}

		c.DB = n
	}

	return nil
}

// Addr returns host:port, bracketing IPv6 hosts.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSConfig returns nil when TLS is off.
func (c *RedisConfig) TLSConfig() (*tls.Config, error) {
	if !c.UseTLS {
		return nil, nil
	}

	tc := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}

		tc.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.CAFile)
		}

		tc.RootCAs = pool
	}

	return tc, nil
}

// AsynqOpt returns the connection options for the task queue.
func (c *RedisConfig) AsynqOpt() (asynq.RedisClientOpt, error) {
	tc, err := c.TLSConfig()
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		TLSConfig:    tc,
	}, nil
}

// ClientOptions returns the options for a plain go-redis client, used by the
// shared cache tier.
func (c *RedisConfig) ClientOptions() (*goredis.Options, error) {
	tc, err := c.TLSConfig()
	if err != nil {
		return nil, err
	}

	return &goredis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		TLSConfig:    tc,
	}, nil
}

func intInRange(key string, def, lo, hi int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}

	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", key, lo, hi)
	}

	return n, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
