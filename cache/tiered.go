package cache

import "context"

// Tiered reads through a fast front cache to a shared back cache and
// back fills the front on a back hit. Writes go to both.
type Tiered[V any] struct {
	front Cache[V]
	back  Cache[V]
}

func NewTiered[V any](front, back Cache[V]) *Tiered[V] {
	return &Tiered[V]{front: front, back: back}
}

func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.front.Get(ctx, key); ok {
		return v, true
	}

	v, ok := t.back.Get(ctx, key)
	if ok {
		t.front.Put(ctx, key, v)
	}

	return v, ok
}

func (t *Tiered[V]) Put(ctx context.Context, key string, value V) {
	t.front.Put(ctx, key, value)
	t.back.Put(ctx, key, value)
}
