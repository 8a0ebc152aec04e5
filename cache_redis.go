package narwhal

import (
	"context"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
	msgpack "github.com/vmihailenco/msgpack/v4"

	"github.com/narwhalcache/narwhal/cache"
)

// bumpScript implements the store's only-overwrite-if-newer write. Redis
// runs the script atomically server-side, so concurrent bumps from any
// number of processes converge to the maximum without a CAS retry loop.
// Timestamps are stored as strings to keep full float64 precision.
var bumpScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or tonumber(ARGV[1]) > tonumber(cur) then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return cur
`)

// Redis implements cache.Cacher interface to use redis as backend with
// go-redis as the redis client library.
type Redis struct {
	c         redis.UniversalClient
	keyPrefix string
}

// NewRedis creates a new instance of redis backend using go-redis client.
// All keys created in redis by this package will start with prefix.
func NewRedis(c redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{
		c:         c,
		keyPrefix: keyPrefix,
	}
}

// Get gets a cache item from redis. Returns pointer to the item, a boolean
// which represents whether key exists or not and an error.
func (r *Redis) Get(ctx context.Context, key string) (*cache.Item, bool, error) {
	b, err := r.c.Get(ctx, r.keyPrefix+key).Bytes()
	switch err {
	case nil:
		var item cache.Item
		if err := msgpack.Unmarshal(b, &item); err != nil {
			return nil, true, err
		}
		return &item, true, nil
	case redis.Nil:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Set sets the given item into redis with provided TTL duration.
func (r *Redis) Set(ctx context.Context, key string, item *cache.Item, ttl time.Duration) error {
	b, err := msgpack.Marshal(item)
	if err != nil {
		return err
	}

	return r.c.Set(ctx, r.keyPrefix+key, b, ttl).Err()
}

// GetTimestamp returns the timestamp stored under key, false when absent.
func (r *Redis) GetTimestamp(ctx context.Context, key string) (float64, bool, error) {
	v, err := r.c.Get(ctx, r.keyPrefix+key).Result()
	switch err {
	case nil:
		ts, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, true, err
		}
		return ts, true, nil
	case redis.Nil:
		return 0, false, nil
	default:
		return 0, false, err
	}
}

// BumpTimestamp atomically raises the timestamp under key to at and returns
// the stored value, which is at or a larger timestamp written by a
// concurrent bump.
func (r *Redis) BumpTimestamp(ctx context.Context, key string, at float64) (float64, error) {
	arg := strconv.FormatFloat(at, 'f', -1, 64)
	v, err := bumpScript.Run(ctx, r.c, []string{r.keyPrefix + key}, arg).Text()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(v, 64)
}
