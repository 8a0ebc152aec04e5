/*
Package narwhal caches SQL read results and keeps them consistent with
concurrent writes at table granularity. Every tracked table carries a
last-invalidation timestamp in the shared cache backend; a cached result is
served only while it is newer than the latest invalidation of every table it
read. Writes bump those timestamps, and writes inside a transaction are
buffered so that a rollback never invalidates anything.

The Engine is the invalidation core: it tracks timestamps across any number
of (database, cache) pairs, answers LastInvalidation queries, and hands out
per-connection Sessions whose EnterAtomic/CommitAtomic/RollbackAtomic hooks
buffer invalidations through nested transaction scopes.

The Interceptor wires the engine into database/sql via ngrok/sqlmw, so reads
become cache lookups and writes invalidate automatically:

	import (
		"database/sql"

		"github.com/go-redis/redis/v8"
		"github.com/narwhalcache/narwhal"
		"github.com/narwhalcache/narwhal/cache"
		"github.com/jackc/pgx/v4/stdlib"
	)

	func main() {
		...
		rc := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{"127.0.0.1:6379"},
		})

		engine, err := narwhal.New(&narwhal.Config{
			Caches:    map[string]cache.Cacher{"default": narwhal.NewRedis(rc, "nw:")},
			Databases: []string{"default"},
		})
		...

		interceptor, err := narwhal.NewInterceptor(&narwhal.InterceptorConfig{
			Engine: engine,
		})
		...

		// wrap pgx driver with the interceptor and register it
		sql.Register("pgx-with-cache", interceptor.Driver(stdlib.GetDefaultDriver()))

		// open the database using the wrapped driver
		db, err := sql.Open("pgx-with-cache", dsn)
		...
	}

Caching is controlled using cache attributes which are SQL comments starting
with `@cache-` prefix. Only queries with cache attributes are cached, and the
@cache-tables attribute ties the result to the tables it reads:

	rows, err := db.QueryContext(context.TODO(), `
		-- @cache-ttl 30
		-- @cache-max-rows 10
		-- @cache-tables books
		SELECT name, pages FROM books WHERE pages > $1`, 100)

Writes declare their tables the same way:

	_, err := db.ExecContext(context.TODO(), `
		-- @invalidate-tables books
		UPDATE books SET pages = pages + 1 WHERE name = $1`, "narwhals")

A write with no attribute follows the classifier's raw-write policy:
conservatively invalidate the whole scope, or ignore it and leave explicit
Engine.Invalidate calls to the caller.
*/
package narwhal
