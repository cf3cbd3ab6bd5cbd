// Package cache provides the TTL bounded result caches used for link
// resolutions and route results.
package cache

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultLinkTTL      = 5 * time.Minute
	DefaultLinkCapacity = 1024

	DefaultRouteTTL      = 30 * time.Minute
	DefaultRouteCapacity = 2048
)

// Cache stores immutable values by key. Implementations are safe for
// concurrent use. A Put on an existing key replaces the entry.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Put(ctx context.Context, key string, value V)
}

const keySeparator = "\x00"

// Key builds a cache key from already normalized parts. Whitespace inside a
// part is collapsed so that it can never produce two keys for one input.
func Key(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, p := range parts {
		cleaned[i] = strings.Join(strings.Fields(p), " ")
	}

	return strings.Join(cleaned, keySeparator)
}

// Noop never stores anything.
type Noop[V any] struct{}

func (Noop[V]) Get(context.Context, string) (V, bool) {
	var zero V

	return zero, false
}

func (Noop[V]) Put(context.Context, string, V) {}
