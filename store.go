package narwhal

import (
	"context"
	"fmt"
	"time"

	"github.com/narwhalcache/narwhal/cache"
)

// Clock returns the current time as epoch seconds. Monotonicity across
// writers is not required of the clock itself; the store resolves races by
// only ever overwriting a timestamp with a larger one.
type Clock func() float64

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

const (
	tsKeyPrefix = "inv:"

	// allMarker is the pseudo table name holding the scope-wide
	// invalidate-all timestamp. Not a valid SQL identifier, so it can never
	// collide with a real table.
	allMarker = "*"

	// storeRetries bounds retries against a failing backend before the
	// operation surfaces ErrStoreUnavailable.
	storeRetries = 3
)

// Store tracks last-invalidation timestamps, one logical namespace per
// (database alias, cache backend) pair. The per-key write is the backend's
// atomic max, so concurrent bumps from any number of processes converge to
// the maximum timestamp; there is no unsynchronized read-then-write anywhere.
type Store struct {
	c  cache.Cacher
	db string
}

// NewStore returns a Store for the given database alias backed by c.
func NewStore(c cache.Cacher, db string) *Store {
	return &Store{c: c, db: db}
}

func (s *Store) key(table string) string {
	return tsKeyPrefix + s.db + ":" + table
}

// Bump advances the stored timestamp of every given table to at least at.
// A table whose stored timestamp already exceeds at is left as is.
func (s *Store) Bump(ctx context.Context, tables []string, at float64) error {
	for _, t := range tables {
		if err := s.bumpKey(ctx, s.key(t), at); err != nil {
			return err
		}
	}
	return nil
}

// BumpAll writes the scope-wide marker timestamp, invalidating every table
// under this store's namespace without enumerating table names. The marker
// dominates per-table lookups until individual tables are bumped past it.
func (s *Store) BumpAll(ctx context.Context, at float64) error {
	return s.bumpKey(ctx, s.key(allMarker), at)
}

// LastInvalidation returns the maximum stored timestamp among the given
// tables and the scope-wide marker. A table that has never been invalidated
// contributes the zero sentinel, so it compares as older than everything.
// With no tables given, only the marker is consulted.
func (s *Store) LastInvalidation(ctx context.Context, tables []string) (float64, error) {
	last, err := s.getKey(ctx, s.key(allMarker))
	if err != nil {
		return 0, err
	}

	for _, t := range tables {
		ts, err := s.getKey(ctx, s.key(t))
		if err != nil {
			return 0, err
		}
		if ts > last {
			last = ts
		}
	}

	return last, nil
}

func (s *Store) bumpKey(ctx context.Context, key string, at float64) error {
	var lastErr error
	for i := 0; i < storeRetries; i++ {
		if _, err := s.c.BumpTimestamp(ctx, key, at); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("bump %q: %v: %w", key, lastErr, ErrStoreUnavailable)
}

func (s *Store) getKey(ctx context.Context, key string) (float64, error) {
	var lastErr error
	for i := 0; i < storeRetries; i++ {
		ts, ok, err := s.c.GetTimestamp(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			return 0, nil
		}
		return ts, nil
	}

	return 0, fmt.Errorf("get %q: %v: %w", key, lastErr, ErrStoreUnavailable)
}
