package cache

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

const maxFlightAttempts = 3

// Flight collapses concurrent loads of one key into a single run. A caller
// whose context ends stops waiting without affecting the others. A caller
// that joined a run aborted by the leader's cancellation loads again.
type Flight[V any] struct {
	group singleflight.Group
}

type abortedError struct {
	err error
}

func (e *abortedError) Error() string { return e.err.Error() }
func (e *abortedError) Unwrap() error { return e.err }

// Do runs load for key unless a run is already in flight. load must observe
// ctx, the context of the caller that supplied it.
func (f *Flight[V]) Do(ctx context.Context, key string, load func() (V, error)) (V, error) {
	var zero V

	for attempt := 1; ; attempt++ {
		ch := f.group.DoChan(key, func() (any, error) {
			v, err := load()
			if err != nil && ctx.Err() != nil {
				return v, &abortedError{err: err}
			}

			return v, err
		})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(V), nil
			}

			var aborted *abortedError
			if !errors.As(res.Err, &aborted) {
				return zero, res.Err
			}

			if ctx.Err() == nil && attempt < maxFlightAttempts {
				continue
			}

			return zero, aborted.err
		}
	}
}
