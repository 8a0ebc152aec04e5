package cache

import (
	"context"
	"database/sql/driver"
	"time"
)

// Item represents a single item in cache and will contain the results of a
// single SQL query.
type Item struct {
	Cols []string
	Rows [][]driver.Value
	// CachedAt is the epoch-seconds reading taken when the item was stored.
	// Freshness is decided by comparing it against the last invalidation of
	// the tables the query read.
	CachedAt float64
}

// Cacher represents a backend cache that can be used by the narwhal package.
// Besides plain item storage it exposes a monotonic timestamp register used
// to track table invalidations: BumpTimestamp never lets a stored timestamp
// decrease, even under concurrent writers sharing the same backend.
type Cacher interface {
	// Get must return a pointer to the item, a boolean representing whether
	// item is present or not, and an error (must be nil when key is not
	// present).
	Get(ctx context.Context, key string) (*Item, bool, error)
	// Set sets the item into cache with the given TTL.
	Set(ctx context.Context, key string, item *Item, ttl time.Duration) error
	// GetTimestamp returns the timestamp stored under key and a boolean
	// which is false when no timestamp has ever been written there.
	GetTimestamp(ctx context.Context, key string) (float64, bool, error)
	// BumpTimestamp atomically sets the timestamp under key to
	// max(current, at) and returns the value that ended up stored.
	BumpTimestamp(ctx context.Context, key string, at float64) (float64, error)
}
