package deduper

import (
	"context"
	"hash/fnv"
	"sync"
)

var _ Deduper = (*hashmap)(nil)

type hashmap struct {
	mux  *sync.RWMutex
	seen map[uint64]struct{}
}

// AddIfNotExists records key and reports whether it was new.
func (d *hashmap) AddIfNotExists(_ context.Context, key string) bool {
	h := hash(key)

	d.mux.RLock()
	_, ok := d.seen[h]
	d.mux.RUnlock()

	if ok {
		return false
	}

	d.mux.Lock()
	defer d.mux.Unlock()

	if _, ok := d.seen[h]; ok {
		return false
	}

	d.seen[h] = struct{}{}

	return true
}

func hash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))

	return h.Sum64()
}
