// Package deduper remembers which origin/destination pairs a batch has
// already seen.
package deduper

import (
	"context"
	"sync"

	"github.com/gosom/courier-routes/location"
)

type Deduper interface {
	AddIfNotExists(context.Context, string) bool
}

func New() Deduper {
	return &hashmap{
		seen: make(map[uint64]struct{}),
		mux:  &sync.RWMutex{},
	}
}

// PairKey identifies a route request. References that normalize to the same
// text yield the same key, and the direction of travel matters.
func PairKey(origin, destination string) string {
	return location.Normalize(origin) + "\x00" + location.Normalize(destination)
}
