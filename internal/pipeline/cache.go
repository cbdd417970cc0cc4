package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// cache keeps one value per item id. Concurrent misses for the same id share
// a single computation.
type cache[T any] struct {
	mu     sync.RWMutex
	values map[string]T
	flight singleflight.Group
}

func newCache[T any]() *cache[T] {
	return &cache[T]{values: make(map[string]T)}
}

func (c *cache[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[id]
	return v, ok
}

// do returns the cached value for id or runs compute once for all concurrent
// callers. ran is true for the caller whose compute was executed. Callers
// stop waiting when their own ctx ends.
func (c *cache[T]) do(ctx context.Context, id string, compute func() (T, error)) (v T, ran bool, err error) {
	if v, ok := c.get(id); ok {
		return v, false, nil
	}

	var executed bool
	ch := c.flight.DoChan(id, func() (any, error) {
		if v, ok := c.get(id); ok {
			return v, nil
		}
		executed = true
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.values[id] = v
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, executed, res.Err
		}
		return res.Val.(T), executed, nil
	}
}

func (c *cache[T]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
