package narwhal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/narwhalcache/narwhal/cache"
)

// Ristretto implements cache.Cacher interface to use ristretto as an
// in-process backend. Items live in ristretto; invalidation timestamps live
// in a mutex-guarded map because ristretto's buffered writes are not
// immediately readable, while a just-bumped timestamp must be. The lock is
// the in-process equivalent of the store's compare-and-swap requirement.
type Ristretto struct {
	c *ristretto.Cache

	mu sync.Mutex
	ts map[string]float64
}

// NewRistretto creates a new instance of ristretto backend wrapping the
// provided *ristretto.Cache instance. While creating the ristretto
// instance, please note that number of rows will be used as "cost"
// (in ristretto's terminology) for each cache item.
func NewRistretto(c *ristretto.Cache) *Ristretto {
	return &Ristretto{
		c:  c,
		ts: make(map[string]float64),
	}
}

// Get gets a cache item from ristretto. Returns pointer to the item, a
// boolean which represents whether key exists or not and an error.
func (r *Ristretto) Get(_ context.Context, key string) (*cache.Item, bool, error) {
	i, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}

	item, ok := i.(*cache.Item)
	if !ok {
		return nil, false, fmt.Errorf("Ristretto.Get(): i.(*cache.Item) failed")
	}

	return item, ok, nil
}

// Set sets the given item into ristretto with provided TTL duration.
func (r *Ristretto) Set(_ context.Context, key string, item *cache.Item, ttl time.Duration) error {
	// using # of rows as cost
	_ = r.c.SetWithTTL(key, item, int64(len(item.Rows)), ttl)
	return nil
}

// GetTimestamp returns the timestamp stored under key, false when absent.
func (r *Ristretto) GetTimestamp(_ context.Context, key string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.ts[key]
	return ts, ok, nil
}

// BumpTimestamp raises the timestamp under key to at, keeping the maximum,
// and returns the stored value.
func (r *Ristretto) BumpTimestamp(_ context.Context, key string, at float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.ts[key]; ok && cur > at {
		return cur, nil
	}
	r.ts[key] = at
	return at, nil
}
