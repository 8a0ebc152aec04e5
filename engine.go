package narwhal

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/narwhalcache/narwhal/cache"
)

// Scope addresses one (database alias, cache alias) pair in a multi-database,
// multi-cache deployment. The zero value resolves to the engine's defaults on
// lookups and to every configured pair on invalidations.
type Scope struct {
	Database string
	Cache    string
}

// Config is the configuration passed to New. It is explicit on purpose:
// there is no settings-driven global state, so multiple engines (e.g. in
// tests) never interfere.
type Config struct {
	// Caches maps cache aliases to their backends. Required, must not be
	// empty.
	Caches map[string]cache.Cacher
	// Databases lists the configured database aliases. Required, must not be
	// empty.
	Databases []string
	// DefaultDatabase and DefaultCache name the aliases used when a Scope
	// leaves them empty. They default to the first database alias and the
	// lone cache alias respectively; with several caches DefaultCache is
	// required.
	DefaultDatabase string
	DefaultCache    string
	// KnownTables optionally fixes the table universe. When set, API calls
	// naming any other table fail with ErrUnknownTable. When empty, any
	// well-formed name is accepted.
	KnownTables []string
	// Clock can be overridden in tests. Defaults to the wall clock.
	Clock Clock
	// Logger receives debug events on invalidations. The zero value is
	// disabled.
	Logger zerolog.Logger
}

// Engine tracks table invalidation timestamps across every configured
// (database, cache) pair and hands out per-connection Sessions that buffer
// invalidations inside atomic blocks.
type Engine struct {
	stores       map[Scope]*Store
	caches       map[string]cache.Cacher
	databases    []string
	cacheAliases []string
	defaultDB    string
	defaultCache string
	known        map[string]struct{}
	clock        Clock
	log          zerolog.Logger
}

// New returns a new Engine initialised with the provided config.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config can't be nil")
	}
	if len(cfg.Caches) == 0 {
		return nil, fmt.Errorf("at least one cache must be set in Config")
	}
	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be set in Config")
	}

	defaultDB := cfg.DefaultDatabase
	if defaultDB == "" {
		defaultDB = cfg.Databases[0]
	}

	defaultCache := cfg.DefaultCache
	if defaultCache == "" {
		if len(cfg.Caches) > 1 {
			return nil, fmt.Errorf("DefaultCache must be set when several caches are configured")
		}
		for alias := range cfg.Caches {
			defaultCache = alias
		}
	}
	if _, ok := cfg.Caches[defaultCache]; !ok {
		return nil, fmt.Errorf("default cache %q is not configured", defaultCache)
	}

	dbs := make(map[string]struct{}, len(cfg.Databases))
	for _, db := range cfg.Databases {
		dbs[db] = struct{}{}
	}
	if _, ok := dbs[defaultDB]; !ok {
		return nil, fmt.Errorf("default database %q is not configured", defaultDB)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = wallClock
	}

	e := &Engine{
		stores:       make(map[Scope]*Store, len(cfg.Databases)*len(cfg.Caches)),
		caches:       make(map[string]cache.Cacher, len(cfg.Caches)),
		databases:    append([]string(nil), cfg.Databases...),
		defaultDB:    defaultDB,
		defaultCache: defaultCache,
		clock:        clock,
		log:          cfg.Logger,
	}

	for alias, c := range cfg.Caches {
		if c == nil {
			return nil, fmt.Errorf("cache %q is nil", alias)
		}
		e.caches[alias] = c
		e.cacheAliases = append(e.cacheAliases, alias)
		for _, db := range cfg.Databases {
			e.stores[Scope{Database: db, Cache: alias}] = NewStore(c, db)
		}
	}

	if len(cfg.KnownTables) > 0 {
		e.known = make(map[string]struct{}, len(cfg.KnownTables))
		for _, t := range cfg.KnownTables {
			e.known[t] = struct{}{}
		}
	}

	return e, nil
}

// Cache returns the backend registered under alias. An empty alias resolves
// to the default cache.
func (e *Engine) Cache(alias string) (cache.Cacher, bool) {
	if alias == "" {
		alias = e.defaultCache
	}
	c, ok := e.caches[alias]
	return c, ok
}

// Invalidate bumps the invalidation timestamp of the given tables. With no
// tables it invalidates everything in scope. An empty Scope field widens the
// call to every configured database or cache alias, which is how bulk
// administrative invalidation is expressed.
//
// Invalidate applies directly to the store. Inside an open atomic block use
// Session.Invalidate instead, which buffers until commit.
func (e *Engine) Invalidate(ctx context.Context, scope Scope, tables ...string) error {
	if err := e.checkTables(tables); err != nil {
		return err
	}

	stores, err := e.invalidationStores(scope)
	if err != nil {
		return err
	}

	at := e.clock()
	for _, s := range stores {
		if len(tables) == 0 {
			if err := s.BumpAll(ctx, at); err != nil {
				return err
			}
		} else if err := s.Bump(ctx, tables, at); err != nil {
			return err
		}
	}

	e.log.Debug().
		Strs("tables", tables).
		Str("database", scope.Database).
		Str("cache", scope.Cache).
		Float64("at", at).
		Msg("invalidated")

	return nil
}

// LastInvalidation returns the most recent invalidation timestamp across the
// given tables, zero if none of them was ever invalidated. An empty Scope
// field resolves to the default alias; with no tables only scope-wide
// invalidations are reported.
func (e *Engine) LastInvalidation(ctx context.Context, scope Scope, tables ...string) (float64, error) {
	if err := e.checkTables(tables); err != nil {
		return 0, err
	}

	s, err := e.store(scope)
	if err != nil {
		return 0, err
	}

	return s.LastInvalidation(ctx, tables)
}

// Session returns a per-connection handle bound to one (database, cache)
// pair. Sessions are not safe for concurrent use; use one per database
// connection, like the transaction it guards.
func (e *Engine) Session(scope Scope) (*Session, error) {
	scope = e.resolve(scope)
	s, err := e.store(scope)
	if err != nil {
		return nil, err
	}
	return &Session{e: e, scope: scope, store: s}, nil
}

func (e *Engine) resolve(scope Scope) Scope {
	if scope.Database == "" {
		scope.Database = e.defaultDB
	}
	if scope.Cache == "" {
		scope.Cache = e.defaultCache
	}
	return scope
}

func (e *Engine) store(scope Scope) (*Store, error) {
	scope = e.resolve(scope)
	s, ok := e.stores[scope]
	if !ok {
		return nil, fmt.Errorf("scope %s/%s is not configured", scope.Database, scope.Cache)
	}
	return s, nil
}

// invalidationStores widens an empty Database or Cache field to every
// configured alias.
func (e *Engine) invalidationStores(scope Scope) ([]*Store, error) {
	dbs := e.databases
	if scope.Database != "" {
		dbs = []string{scope.Database}
	}
	caches := e.cacheAliases
	if scope.Cache != "" {
		caches = []string{scope.Cache}
	}

	stores := make([]*Store, 0, len(dbs)*len(caches))
	for _, db := range dbs {
		for _, alias := range caches {
			s, ok := e.stores[Scope{Database: db, Cache: alias}]
			if !ok {
				return nil, fmt.Errorf("scope %s/%s is not configured", db, alias)
			}
			stores = append(stores, s)
		}
	}

	return stores, nil
}

func (e *Engine) checkTables(tables []string) error {
	for _, t := range tables {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("blank table name: %w", ErrUnknownTable)
		}
		if e.known != nil {
			if _, ok := e.known[t]; !ok {
				return fmt.Errorf("table %q: %w", t, ErrUnknownTable)
			}
		}
	}
	return nil
}

// Session is the per-connection face of the engine. It owns the transactional
// invalidation buffer: while an atomic block is open, invalidations are held
// back and only reach the shared store when the outermost block commits.
// A session must always leave an aborted transaction through RollbackAtomic
// so pending invalidations are discarded.
type Session struct {
	e     *Engine
	scope Scope
	store *Store
	buf   txBuffer
}

// Scope returns the (database, cache) pair the session is bound to.
func (s *Session) Scope() Scope {
	return s.scope
}

// InAtomic reports whether an atomic block is currently open.
func (s *Session) InAtomic() bool {
	return s.buf.open()
}

// EnterAtomic opens an atomic block, nesting if one is already open.
func (s *Session) EnterAtomic() {
	s.buf.enter()
}

// CommitAtomic closes the innermost open atomic block. A nested block merges
// its pending invalidations into the enclosing one; the outermost block
// flushes them into the store in a single pass, stamped with the commit-time
// clock reading. Returns ErrInvalidTransactionState when no block is open.
func (s *Session) CommitAtomic(ctx context.Context) error {
	f, flush, err := s.buf.commit()
	if err != nil {
		return err
	}
	if !flush {
		return nil
	}

	at := s.e.clock()
	if f.all > 0 {
		if err := s.store.BumpAll(ctx, at); err != nil {
			return err
		}
	}
	if len(f.tables) > 0 {
		if err := s.store.Bump(ctx, f.tableNames(), at); err != nil {
			return err
		}
	}

	if f.all > 0 || len(f.tables) > 0 {
		s.e.log.Debug().
			Int("tables", len(f.tables)).
			Bool("all", f.all > 0).
			Float64("at", at).
			Msg("flushed buffered invalidations")
	}

	return nil
}

// RollbackAtomic closes the innermost open atomic block and discards its
// pending invalidations, at any nesting level. Returns
// ErrInvalidTransactionState when no block is open.
func (s *Session) RollbackAtomic() error {
	return s.buf.rollback()
}

// RecordInvalidation marks the given tables as written. In an open atomic
// block the invalidation is buffered; otherwise it is applied to the store
// immediately with the current clock reading.
func (s *Session) RecordInvalidation(ctx context.Context, tables ...string) error {
	if err := s.e.checkTables(tables); err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	at := s.e.clock()
	if s.buf.open() {
		s.buf.top().record(tables, at)
		return nil
	}

	return s.store.Bump(ctx, tables, at)
}

// Invalidate is the session-scoped Invalidation API: with tables it behaves
// like RecordInvalidation, without it invalidates everything in the session's
// scope. Either form honors the open atomic block, so an invalidation issued
// inside a transaction that rolls back never reaches the store.
func (s *Session) Invalidate(ctx context.Context, tables ...string) error {
	if len(tables) > 0 {
		return s.RecordInvalidation(ctx, tables...)
	}

	at := s.e.clock()
	if s.buf.open() {
		s.buf.top().recordAll(at)
		return nil
	}

	return s.store.BumpAll(ctx, at)
}

// LastInvalidation behaves like Engine.LastInvalidation for the session's
// scope but additionally sees the session's own buffered invalidations:
// within a transaction you read your own writes, while other connections do
// not see them until commit.
func (s *Session) LastInvalidation(ctx context.Context, tables ...string) (float64, error) {
	if err := s.e.checkTables(tables); err != nil {
		return 0, err
	}

	last, err := s.store.LastInvalidation(ctx, tables)
	if err != nil {
		return 0, err
	}

	if pending := s.buf.pending(tables); pending > last {
		last = pending
	}

	return last, nil
}
