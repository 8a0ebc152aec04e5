// Package mocks provides testify mocks for the cache.Cacher interface.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/narwhalcache/narwhal/cache"
)

// Cacher is a mock implementation of cache.Cacher.
type Cacher struct {
	mock.Mock
}

// Get provides a mock function.
func (m *Cacher) Get(ctx context.Context, key string) (*cache.Item, bool, error) {
	args := m.Called(ctx, key)

	var item *cache.Item
	if args.Get(0) != nil {
		item = args.Get(0).(*cache.Item)
	}

	return item, args.Bool(1), args.Error(2)
}

// Set provides a mock function.
func (m *Cacher) Set(ctx context.Context, key string, item *cache.Item, ttl time.Duration) error {
	args := m.Called(ctx, key, item, ttl)
	return args.Error(0)
}

// GetTimestamp provides a mock function.
func (m *Cacher) GetTimestamp(ctx context.Context, key string) (float64, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

// BumpTimestamp provides a mock function.
func (m *Cacher) BumpTimestamp(ctx context.Context, key string, at float64) (float64, error) {
	args := m.Called(ctx, key, at)
	return args.Get(0).(float64), args.Error(1)
}
