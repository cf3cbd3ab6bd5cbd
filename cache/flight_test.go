package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlight(t *testing.T) {
	t.Run("leader cancellation reruns for joined callers", func(t *testing.T) {
		var (
			f     Flight[int]
			loads atomic.Int32
		)

		started := make(chan struct{}, 2)
		release := make(chan struct{})

		load := func(ctx context.Context) func() (int, error) {
			return func() (int, error) {
				loads.Add(1)
				started <- struct{}{}

				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-release:
					return 42, nil
				}
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		leader := make(chan error, 1)

		go func() {
			_, err := f.Do(ctx, "k", load(ctx))
			leader <- err
		}()

		<-started

		joined := make(chan int, 1)

		go func() {
			v, err := f.Do(context.Background(), "k", load(context.Background()))
			assert.NoError(t, err)
			joined <- v
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		require.ErrorIs(t, <-leader, context.Canceled)

		<-started
		close(release)

		assert.Equal(t, 42, <-joined)
		assert.EqualValues(t, 2, loads.Load())
	})

	t.Run("waiting caller leaves on its own cancellation", func(t *testing.T) {
		var f Flight[int]

		started := make(chan struct{})
		release := make(chan struct{})
		defer close(release)

		go func() {
			_, _ = f.Do(context.Background(), "k", func() (int, error) {
				close(started)
				<-release
				return 1, nil
			})
		}()

		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := f.Do(ctx, "k", func() (int, error) { return 2, nil })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("load errors are returned as is", func(t *testing.T) {
		var f Flight[int]

		_, err := f.Do(context.Background(), "k", func() (int, error) {
			return 0, context.DeadlineExceeded
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
