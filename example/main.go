package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/narwhalcache/narwhal"
	"github.com/narwhalcache/narwhal/cache"

	"github.com/dgraph-io/ristretto"
	redis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/stdlib"
)

const (
	defaultMaxRowsToCache = 100
)

func newRistrettoCache(maxRowsToCache int64) (cache.Cacher, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxRowsToCache,
		MaxCost:     maxRowsToCache,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return narwhal.NewRistretto(c), nil
}

func newRedisCache() (cache.Cacher, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"127.0.0.1:6379"},
	})

	if _, err := r.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}

	return narwhal.NewRedis(r, "nw:"), nil
}

func main() {

	backend, err := newRistrettoCache(defaultMaxRowsToCache)
	if err != nil {
		log.Fatalf("newRistrettoCache() failed: %v", err)
	}

	/*
		backend, err := newRedisCache()
		if err != nil {
			log.Fatalf("newRedisCache() failed: %v", err)
		}
	*/

	engine, err := narwhal.New(&narwhal.Config{
		Caches:    map[string]cache.Cacher{"default": backend},
		Databases: []string{"default"},
	})
	if err != nil {
		log.Fatalf("narwhal.New() failed: %v", err)
	}

	interceptor, err := narwhal.NewInterceptor(&narwhal.InterceptorConfig{
		Engine: engine,
	})
	if err != nil {
		log.Fatalf("narwhal.NewInterceptor() failed: %v", err)
	}

	defer func() {
		fmt.Printf("\nInterceptor metrics: %+v\n", interceptor.Stats())
	}()

	// install the wrapper which wraps pgx driver
	sql.Register("pgx-narwhal", interceptor.Driver(stdlib.GetDefaultDriver()))

	if err := run(engine); err != nil {
		log.Fatalf("run() failed: %v", err)
	}
}

func run(engine *narwhal.Engine) error {

	db, err := sql.Open("pgx-narwhal",
		"host=127.0.0.1 port=5432 user=postgres dbname=postgres sslmode=disable")
	if err != nil {
		return err
	}
	defer db.Close()

	if err = db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("db.PingContext() failed: %w", err)
	}

	for i := 0; i < 15; i++ {
		start := time.Now()
		if err := doQuery(db); err != nil {
			return fmt.Errorf("doQuery() failed: %w", err)
		}
		fmt.Printf("i=%d; t=%s\n", i, time.Since(start))

		if i == 9 {
			// invalidate halfway through: the next read misses and
			// re-executes
			if err := engine.Invalidate(context.TODO(), narwhal.Scope{}, "books"); err != nil {
				return fmt.Errorf("engine.Invalidate() failed: %w", err)
			}
		}

		time.Sleep(1 * time.Second)
	}

	return nil
}

func doQuery(db *sql.DB) error {

	rows, err := db.QueryContext(context.TODO(), `
		-- @cache-ttl 60
		-- @cache-max-rows 10
		-- @cache-tables books
		SELECT name, pages FROM books WHERE pages > $1`, 10)
	if err != nil {
		return fmt.Errorf("db.QueryContext() failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var pages int
		if err := rows.Scan(&name, &pages); err != nil {
			return fmt.Errorf("rows.Scan() failed: %w", err)
		}
	}

	return rows.Err()
}
