package querycache

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// Optimistic stores patch(current) under key, runs commit, and on error puts
// back exactly the value (or absence) that was there before. patch must return
// a new value and leave its input untouched.
func Optimistic[T any](ctx context.Context, c *Cache, key Key, patch func(T) T, commit func(context.Context) error) error {
	c.mu.Lock()
	prev, existed := c.entries[key]
	var snapshot entry
	var current T
	if existed {
		snapshot = *prev
		v, ok := prev.value.(T)
		if !ok && prev.value != nil {
			c.mu.Unlock()
			return fmt.Errorf("cache key %s holds %T", key, prev.value)
		}
		current = v
	}
	c.entries[key] = &entry{value: patch(current), stale: snapshot.stale, version: snapshot.version + 1}
	c.mu.Unlock()

	if err := commit(ctx); err != nil {
		c.mu.Lock()
		if existed {
			restored := snapshot
			c.entries[key] = &restored
		} else {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Guard blocks duplicate submission of a mutation while one is in flight.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{busy: map[string]struct{}{}}
}

// Acquire marks name busy. It fails with CONFLICT if name is already running.
func (g *Guard) Acquire(name string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[name]; ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("%s already in progress", name))
	}
	g.busy[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, name)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether name is in flight.
func (g *Guard) Busy(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[name]
	return ok
}
