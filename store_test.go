package narwhal

import (
	"context"
	"errors"
	"testing"

	"github.com/narwhalcache/narwhal/cache"
	"github.com/narwhalcache/narwhal/mocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/ristretto"
	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) cache.Cacher {
	t.Helper()

	s := miniredis.RunT(t)
	c := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{s.Addr()},
	})
	t.Cleanup(func() { _ = c.Close() })

	return NewRedis(c, "nw:")
}

func newTestRistretto(t *testing.T) cache.Cacher {
	t.Helper()

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
	})
	require.Nil(t, err)
	t.Cleanup(c.Close)

	return NewRistretto(c)
}

func testBackends(t *testing.T) map[string]cache.Cacher {
	return map[string]cache.Cacher{
		"redis":     newTestRedis(t),
		"ristretto": newTestRistretto(t),
	}
}

func TestStoreMonotonicity(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewStore(backend, "default")

			assert.Nil(s.Bump(ctx, []string{"t1"}, 100.5))

			last, err := s.LastInvalidation(ctx, []string{"t1"})
			assert.Nil(err)
			assert.Equal(100.5, last)

			// an older bump must never decrease the stored timestamp
			assert.Nil(s.Bump(ctx, []string{"t1"}, 50.0))
			last, err = s.LastInvalidation(ctx, []string{"t1"})
			assert.Nil(err)
			assert.Equal(100.5, last)

			assert.Nil(s.Bump(ctx, []string{"t1"}, 200.25))
			last, err = s.LastInvalidation(ctx, []string{"t1"})
			assert.Nil(err)
			assert.Equal(200.25, last)
		})
	}
}

func TestStoreZeroSentinel(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewStore(backend, "default")

			// never invalidated: older than everything
			last, err := s.LastInvalidation(ctx, []string{"fresh_table"})
			assert.Nil(err)
			assert.Equal(0.0, last)
		})
	}
}

func TestStoreDisjointTables(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewStore(backend, "default")

			assert.Nil(s.Bump(ctx, []string{"a"}, 10))

			last, err := s.LastInvalidation(ctx, []string{"b"})
			assert.Nil(err)
			assert.Equal(0.0, last)

			// max across a set picks the invalidated member
			last, err = s.LastInvalidation(ctx, []string{"a", "b"})
			assert.Nil(err)
			assert.Equal(10.0, last)
		})
	}
}

func TestStoreBumpAll(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewStore(backend, "default")

			assert.Nil(s.Bump(ctx, []string{"a"}, 10))
			assert.Nil(s.BumpAll(ctx, 20))

			// the marker dominates every table, known or not
			for _, tables := range [][]string{{"a"}, {"b"}, nil} {
				last, err := s.LastInvalidation(ctx, tables)
				assert.Nil(err)
				assert.Equal(20.0, last)
			}

			// until a later per-table bump takes over
			assert.Nil(s.Bump(ctx, []string{"a"}, 30))
			last, err := s.LastInvalidation(ctx, []string{"a"})
			assert.Nil(err)
			assert.Equal(30.0, last)
		})
	}
}

func TestStoreDatabaseNamespaces(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	backend := newTestRedis(t)
	s1 := NewStore(backend, "default")
	s2 := NewStore(backend, "replica")

	assert.Nil(s1.Bump(ctx, []string{"t1"}, 10))

	// same backend, different database alias: independent timestamps
	last, err := s2.LastInvalidation(ctx, []string{"t1"})
	assert.Nil(err)
	assert.Equal(0.0, last)
}

func TestStoreUnavailable(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	backendErr := errors.New("connection refused")

	mCacher := new(mocks.Cacher)
	mCacher.On("BumpTimestamp", mock.Anything, mock.Anything, mock.Anything).
		Return(0.0, backendErr).Times(storeRetries)
	mCacher.On("GetTimestamp", mock.Anything, mock.Anything).
		Return(0.0, false, backendErr).Times(storeRetries)

	s := NewStore(mCacher, "default")

	err := s.Bump(ctx, []string{"t1"}, 10)
	assert.True(errors.Is(err, ErrStoreUnavailable))

	_, err = s.LastInvalidation(ctx, nil)
	assert.True(errors.Is(err, ErrStoreUnavailable))

	assert.True(mCacher.AssertExpectations(t))
}

func TestStoreRetriesTransientFailure(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	mCacher := new(mocks.Cacher)
	mCacher.On("BumpTimestamp", mock.Anything, "inv:default:t1", 10.0).
		Return(0.0, errors.New("timeout")).Once()
	mCacher.On("BumpTimestamp", mock.Anything, "inv:default:t1", 10.0).
		Return(10.0, nil).Once()

	s := NewStore(mCacher, "default")
	assert.Nil(s.Bump(ctx, []string{"t1"}, 10))
	assert.True(mCacher.AssertExpectations(t))
}
