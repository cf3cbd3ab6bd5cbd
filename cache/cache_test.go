package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, Key("route", "a b", "c"), Key("route", " a   b ", "c\t"))
	assert.NotEqual(t, Key("route", "a", "b"), Key("route", "b", "a"))
	assert.Equal(t, "route\x00a b\x00c", Key("route", "a b", "c"))
	assert.NotEqual(t, Key("route", "a|b", "c"), Key("route", "a", "b|c"))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("get after put", func(t *testing.T) {
		m := NewMemory[string](4, time.Minute)
		m.Put(ctx, "k", "v")

		v, ok := m.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, "v", v)

		_, ok = m.Get(ctx, "missing")
		assert.False(t, ok)
	})

	t.Run("reads do not refresh recency", func(t *testing.T) {
		m := NewMemory[int](2, time.Minute)
		m.Put(ctx, "a", 1)
		m.Put(ctx, "b", 2)

		_, ok := m.Get(ctx, "a")
		require.True(t, ok)

		m.Put(ctx, "c", 3)

		_, ok = m.Get(ctx, "a")
		assert.False(t, ok, "oldest write must be evicted first")

		_, ok = m.Get(ctx, "b")
		assert.True(t, ok)

		_, ok = m.Get(ctx, "c")
		assert.True(t, ok)
		assert.Equal(t, 2, m.Len())
	})

	t.Run("rewrite counts as a write", func(t *testing.T) {
		m := NewMemory[int](2, time.Minute)
		m.Put(ctx, "a", 1)
		m.Put(ctx, "b", 2)
		m.Put(ctx, "a", 10)
		m.Put(ctx, "c", 3)

		v, ok := m.Get(ctx, "a")
		require.True(t, ok)
		assert.Equal(t, 10, v)

		_, ok = m.Get(ctx, "b")
		assert.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		m := NewMemory[int](2, 50*time.Millisecond)
		m.Put(ctx, "a", 1)

		time.Sleep(120 * time.Millisecond)

		_, ok := m.Get(ctx, "a")
		assert.False(t, ok)
	})

	t.Run("concurrent use", func(t *testing.T) {
		m := NewMemory[int](64, time.Minute)

		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				for j := range 100 {
					k := fmt.Sprintf("%d-%d", i, j%8)
					m.Put(ctx, k, j)
					_, _ = m.Get(ctx, k)
				}
			}(i)
		}

		wg.Wait()
		assert.LessOrEqual(t, m.Len(), 64)
	})
}

func TestTiered(t *testing.T) {
	ctx := context.Background()

	front := NewMemory[string](4, time.Minute)
	back := NewMemory[string](4, time.Minute)
	tiered := NewTiered[string](front, back)

	back.Put(ctx, "shared", "from-back")

	v, ok := tiered.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, "from-back", v)

	v, ok = front.Get(ctx, "shared")
	require.True(t, ok, "back hit fills the front")
	assert.Equal(t, "from-back", v)

	tiered.Put(ctx, "new", "value")

	_, ok = front.Get(ctx, "new")
	assert.True(t, ok)

	_, ok = back.Get(ctx, "new")
	assert.True(t, ok)

	_, ok = tiered.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestNoop(t *testing.T) {
	var c Cache[int] = Noop[int]{}

	c.Put(context.Background(), "a", 1)

	_, ok := c.Get(context.Background(), "a")
	assert.False(t, ok)
}
