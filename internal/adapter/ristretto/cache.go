// Package ristretto implements the cache port using dgraph-io/ristretto as
// the in-process cache for CA roots and replayed responses.
package ristretto

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/iotbridge/internal/port/cache"
)

// minCounters keeps admission statistics useful for very small caches.
const minCounters = 1000

// Cache is a size-bounded L1 cache. Values are copied on the way in, so a
// caller reusing its buffer cannot change a cached entry.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

var _ cache.Cache = (*Cache)(nil)

// New creates a cache holding at most maxCostBytes of values.
func New(maxCostBytes int64) (*Cache, error) {
	// Cached values are PEM bundles and small JSON responses, a few KiB
	// each; ristretto wants ten counters per expected entry.
	counters := max(maxCostBytes/4096*10, minCounters)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get implements cache.Cache.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores a copy of value and waits until it is visible to Get.
// Ristretto may refuse the value under cost pressure; that is a later miss,
// not an error.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := bytes.Clone(value)
	if ttl > 0 {
		c.c.SetWithTTL(key, v, int64(len(v)), ttl)
	} else {
		c.c.Set(key, v, int64(len(v)))
	}
	c.c.Wait()
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
