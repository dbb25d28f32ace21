// Package querycache is the client-side read cache keyed by logical query.
// Writers go through Fetch, Invalidate or Optimistic; there is no direct Set.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Key identifies a logical query such as "orders:user:<id>".
type Key string

const AllOrders Key = "orders:all"

func OrdersForUser(userID uuid.UUID) Key {
	return Key("orders:user:" + userID.String())
}

func Order(orderID uuid.UUID) Key {
	return Key("orders:detail:" + orderID.String())
}

func StagesForOrder(orderID uuid.UUID) Key {
	return Key("stages:order:" + orderID.String())
}

func CertificatesForOrder(orderID uuid.UUID) Key {
	return Key("certificates:order:" + orderID.String())
}

func CartForUser(userID uuid.UUID) Key {
	return Key("cart:user:" + userID.String())
}

// Prefixes used with InvalidatePrefix.
const (
	PrefixOrders       = "orders:"
	PrefixStages       = "stages:"
	PrefixCertificates = "certificates:"
	PrefixCart         = "cart:"
)

type entry struct {
	value   any
	stale   bool
	version uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	flight  singleflight.Group
}

func New() *Cache {
	return &Cache{entries: map[Key]*entry{}}
}

// Invalidate marks key stale so the next Fetch goes to the store.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.stale = true
		e.version++
	}
}

// InvalidatePrefix marks every key starting with prefix stale and returns how many.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if strings.HasPrefix(string(key), prefix) {
			e.stale = true
			e.version++
			n++
		}
	}
	return n
}

// IsStale reports whether key is missing or invalidated.
func (c *Cache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return !ok || e.stale
}

// Keys returns the cached keys, fresh or stale.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Key, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	return out
}

// Peek returns the cached value of key without fetching.
func Peek[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Fetch returns the cached value unless it is missing or stale, in which case
// fetcher runs and its result is stored. Concurrent fetches of one key share a
// single call. A result that raced with an optimistic write is not stored.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fetcher func(context.Context) (T, error)) (T, error) {
	var zero T
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale {
		v, ok := e.value.(T)
		c.mu.Unlock()
		if !ok {
			return zero, fmt.Errorf("cache key %s holds %T", key, e.value)
		}
		return v, nil
	}
	c.mu.Unlock()

	return Refetch(ctx, c, key, fetcher)
}

// Refetch always goes to the store and replaces the cached value.
func Refetch[T any](ctx context.Context, c *Cache, key Key, fetcher func(context.Context) (T, error)) (T, error) {
	var zero T
	c.mu.Lock()
	startVersion := c.versionLocked(key)
	c.mu.Unlock()

	res, err, _ := c.flight.Do(string(key), func() (any, error) {
		return fetcher(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("fetch for %s returned %T", key, res)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[key]
	if exists && e.version != startVersion && !e.stale {
		if current, ok := e.value.(T); ok {
			return current, nil
		}
	}
	if !exists {
		e = &entry{}
		c.entries[key] = e
	}
	e.value = v
	e.stale = false
	e.version++
	return v, nil
}

func (c *Cache) versionLocked(key Key) uint64 {
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}
