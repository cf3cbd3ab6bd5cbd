package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process cache bounded by capacity and TTL. Reads use Peek
// so they never refresh an entry: once capacity is exceeded the entry
// written longest ago is evicted first.
type Memory[V any] struct {
	lru *expirable.LRU[string, V]
}

func NewMemory[V any](capacity int, ttl time.Duration) *Memory[V] {
	if capacity <= 0 {
		capacity = DefaultLinkCapacity
	}

	return &Memory[V]{
		lru: expirable.NewLRU[string, V](capacity, nil, ttl),
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	return m.lru.Peek(key)
}

func (m *Memory[V]) Put(_ context.Context, key string, value V) {
	m.lru.Add(key, value)
}

// Len returns the number of live entries.
func (m *Memory[V]) Len() int {
	return m.lru.Len()
}

// Purge drops every entry.
func (m *Memory[V]) Purge() {
	m.lru.Purge()
}
