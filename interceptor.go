package narwhal

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngrok/sqlmw"

	"github.com/narwhalcache/narwhal/cache"
)

// InterceptorConfig is the configuration passed to NewInterceptor.
type InterceptorConfig struct {
	// Engine must be set to the invalidation engine shared by every
	// interceptor and API caller of the deployment. Required.
	Engine *Engine
	// Scope binds the interceptor to one (database, cache) pair; empty
	// fields resolve to the engine's defaults. Wrap one driver per database
	// alias in multi-database deployments.
	Scope Scope
	// Cache overrides the result cache backend. When nil the backend
	// registered in the engine under Scope.Cache is used, which keeps
	// results and invalidation timestamps on the same backend.
	Cache cache.Cacher
	// OnError is called whenever the cache backend, the key function or the
	// invalidation store fails. The interceptor itself does not log; use
	// this hook to log or to disable caching on persistent trouble.
	OnError func(error)
	// KeyFunc can be optionally set to provide a custom key derivation.
	// Defaults to DefaultKeyFunc.
	KeyFunc KeyFunc
	// Classifier decides read/write/ignore per statement. Defaults to a
	// classifier with InvalidateRaw enabled (raw writes conservatively
	// invalidate the whole scope).
	Classifier *Classifier
	// TablesFunc can be optionally set to resolve the table set of a
	// statement, e.g. from a driver that tracks it. When nil the
	// @cache-tables / @invalidate-tables comment attributes are used.
	TablesFunc func(query string) []string
}

// Interceptor is a ngrok/sqlmw interceptor that caches SQL read results and
// keeps them consistent with writes at table granularity. Reads opt in
// through @cache-* comment attributes; writes invalidate the tables they
// declare (or everything, per the raw-write policy), and writes inside a
// transaction only invalidate once the transaction commits.
type Interceptor struct {
	engine     *Engine
	c          cache.Cacher
	scope      Scope
	keyFunc    KeyFunc
	cls        *Classifier
	tablesFunc func(string) []string
	onErr      func(error)
	stats      Stats
	disabled   bool
	sessions   sync.Map // driver connection -> *Session
	sqlmw.NullInterceptor
}

// NewInterceptor returns a new instance of the caching interceptor
// initialised with the provided config.
func NewInterceptor(config *InterceptorConfig) (*Interceptor, error) {
	if config == nil {
		return nil, fmt.Errorf("config can't be nil")
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("engine must be set in InterceptorConfig")
	}

	scope := config.Engine.resolve(config.Scope)
	if _, err := config.Engine.Session(scope); err != nil {
		return nil, err
	}

	c := config.Cache
	if c == nil {
		var ok bool
		c, ok = config.Engine.Cache(scope.Cache)
		if !ok {
			return nil, fmt.Errorf("cache %q is not configured in the engine", scope.Cache)
		}
	}

	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc
	}

	cls := config.Classifier
	if cls == nil {
		cls = NewClassifier(ClassifierConfig{InvalidateRaw: true})
	}

	return &Interceptor{
		engine:     config.Engine,
		c:          c,
		scope:      scope,
		keyFunc:    keyFunc,
		cls:        cls,
		tablesFunc: config.TablesFunc,
		onErr:      config.OnError,
	}, nil
}

// Driver wraps d so that every connection opened through it goes through the
// interceptor. Register the result with sql.Register.
func (i *Interceptor) Driver(d driver.Driver) driver.Driver {
	return sqlmw.Driver(d, i)
}

// Enable enables the interceptor. Interceptor instance is enabled by default
// on creation.
func (i *Interceptor) Enable() {
	i.disabled = false
}

// Disable disables the interceptor resulting in cache bypass. All queries
// would go directly to the SQL backend and writes stop invalidating.
func (i *Interceptor) Disable() {
	i.disabled = true
}

// session returns the Session bound to the given driver connection, creating
// it on first use. The map is bounded by the sql.DB pool size.
func (i *Interceptor) session(conn interface{}) *Session {
	if s, ok := i.sessions.Load(conn); ok {
		return s.(*Session)
	}

	// scope was validated in NewInterceptor
	s, _ := i.engine.Session(i.scope)
	actual, _ := i.sessions.LoadOrStore(conn, s)
	return actual.(*Session)
}

func (i *Interceptor) fault(err error) {
	atomic.AddUint64(&i.stats.Errors, 1)
	if i.onErr != nil {
		i.onErr(err)
	}
}

// tables resolves a statement's table set: the TablesFunc callback when
// configured, the comment attributes otherwise.
func (i *Interceptor) tables(query string, fromAttrs []string) []string {
	if i.tablesFunc != nil {
		return i.tablesFunc(query)
	}
	return fromAttrs
}

// ConnQueryContext intercepts database/sql's DB.QueryContext and
// Conn.QueryContext calls.
func (i *Interceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	if i.disabled {
		return conn.QueryContext(ctx, query, args)
	}

	return i.readThrough(ctx, i.session(conn), query, args, func() (driver.Rows, error) {
		return conn.QueryContext(ctx, query, args)
	})
}

// StmtQueryContext intercepts stmt.QueryContext calls from a prepared
// statement.
func (i *Interceptor) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	if i.disabled {
		return conn.QueryContext(ctx, args)
	}

	var sess *Session
	if t, ok := conn.(*trackedStmt); ok {
		sess = t.sess
	}

	return i.readThrough(ctx, sess, query, args, func() (driver.Rows, error) {
		return conn.QueryContext(ctx, args)
	})
}

// readThrough is the shared read path: opt-in check, key derivation, cache
// lookup with freshness check, and on a miss the recorded pass-through.
func (i *Interceptor) readThrough(ctx context.Context, sess *Session, query string, args []driver.NamedValue, run func() (driver.Rows, error)) (driver.Rows, error) {
	attrs := getAttrs(query)
	if attrs == nil {
		return run()
	}

	_, tracked := i.cls.Classify(HintQuery, i.tables(query, attrs.tables))

	key, err := i.keyFunc(QuerySignature{
		Query:    query,
		Args:     args,
		Database: i.scope.Database,
		Cache:    i.scope.Cache,
		Tables:   tracked,
	})
	if err != nil {
		i.fault(fmt.Errorf("KeyFunc failed: %w", err))
		return run()
	}

	if cached := i.checkCache(ctx, sess, key, tracked); cached != nil {
		return cached, nil
	}

	rows, err := run()
	if err != nil {
		return rows, err
	}

	cacheSetter := func(item *cache.Item) {
		item.CachedAt = i.engine.clock()
		if err := i.c.Set(ctx, key, item, time.Duration(attrs.ttl)*time.Second); err != nil {
			i.fault(fmt.Errorf("Cache.Set failed: %w", err))
		}
	}

	return newRowsRecorder(cacheSetter, rows, attrs.maxRows), nil
}

// checkCache returns the cached rows when present and fresh, nil otherwise.
// A cached result is fresh iff it was stored no earlier than the last
// invalidation of any table it reads; within a transaction the session's own
// buffered invalidations count too. A result with no tracked tables is fresh
// until its TTL expires.
func (i *Interceptor) checkCache(ctx context.Context, sess *Session, key string, tables []string) driver.Rows {
	item, ok, err := i.c.Get(ctx, key)
	if err != nil {
		i.fault(fmt.Errorf("Cache.Get failed: %w", err))
		return nil
	}
	if !ok {
		atomic.AddUint64(&i.stats.Misses, 1)
		return nil
	}

	if len(tables) > 0 {
		last, err := i.lastInvalidation(ctx, sess, tables)
		if err != nil {
			// Store outage: execute directly rather than trust a result
			// whose freshness is unknown.
			i.fault(fmt.Errorf("LastInvalidation failed: %w", err))
			return nil
		}
		if !IsFresh(item, last) {
			atomic.AddUint64(&i.stats.Misses, 1)
			return nil
		}
	}

	atomic.AddUint64(&i.stats.Hits, 1)

	return &rowsCached{
		item,
		0,
	}
}

func (i *Interceptor) lastInvalidation(ctx context.Context, sess *Session, tables []string) (float64, error) {
	if sess != nil {
		return sess.LastInvalidation(ctx, tables...)
	}
	return i.engine.LastInvalidation(ctx, i.scope, tables...)
}

// ConnExecContext intercepts database/sql's DB.ExecContext and
// Conn.ExecContext calls. A successful write invalidates its table set
// through the connection's session, so inside a transaction the invalidation
// is buffered until commit.
func (i *Interceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := conn.ExecContext(ctx, query, args)
	if err != nil || i.disabled {
		return res, err
	}

	i.invalidateFor(ctx, i.session(conn), query)
	return res, nil
}

// StmtExecContext intercepts stmt.ExecContext calls from a prepared
// statement.
func (i *Interceptor) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := conn.ExecContext(ctx, args)
	if err != nil || i.disabled {
		return res, err
	}

	var sess *Session
	if t, ok := conn.(*trackedStmt); ok {
		sess = t.sess
	}
	if sess == nil {
		// statement could not be tied to its connection; invalidate
		// unbuffered
		sess, _ = i.engine.Session(i.scope)
	}

	i.invalidateFor(ctx, sess, query)
	return res, nil
}

func (i *Interceptor) invalidateFor(ctx context.Context, sess *Session, query string) {
	kind, tracked := i.cls.Classify(HintExec, i.tables(query, getInvalidateTables(query)))
	if kind != KindWrite {
		return
	}

	var err error
	if len(tracked) == 0 {
		err = sess.Invalidate(ctx) // raw write: whole scope
	} else {
		err = sess.RecordInvalidation(ctx, tracked...)
	}
	if err != nil {
		i.fault(fmt.Errorf("invalidation failed: %w", err))
		return
	}

	atomic.AddUint64(&i.stats.Invalidations, 1)
}

// ConnPrepareContext intercepts statement preparation so that later
// stmt.Query/Exec calls can be tied back to their connection's session.
func (i *Interceptor) ConnPrepareContext(ctx context.Context, conn driver.ConnPrepareContext, query string) (driver.Stmt, error) {
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return stmt, err
	}

	return &trackedStmt{Stmt: stmt, sess: i.session(conn)}, nil
}

// ConnBeginTx intercepts transaction starts and opens an atomic block on the
// connection's session.
func (i *Interceptor) ConnBeginTx(ctx context.Context, conn driver.ConnBeginTx, txOpts driver.TxOptions) (driver.Tx, error) {
	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil || i.disabled {
		return tx, err
	}

	sess := i.session(conn)
	sess.EnterAtomic()
	return &trackedTx{tx: tx, sess: sess}, nil
}

// TxCommit commits the transaction and flushes its buffered invalidations.
// The flush happens even when the driver's commit errors: over-invalidation
// only costs cache misses, a missed invalidation serves stale rows.
func (i *Interceptor) TxCommit(ctx context.Context, tx driver.Tx) error {
	t, ok := tx.(*trackedTx)
	if !ok {
		return tx.Commit()
	}

	err := t.tx.Commit()
	if cerr := t.sess.CommitAtomic(ctx); cerr != nil {
		i.fault(fmt.Errorf("commit flush failed: %w", cerr))
	}
	return err
}

// TxRollback rolls the transaction back and discards its buffered
// invalidations.
func (i *Interceptor) TxRollback(ctx context.Context, tx driver.Tx) error {
	t, ok := tx.(*trackedTx)
	if !ok {
		return tx.Rollback()
	}

	err := t.tx.Rollback()
	if rerr := t.sess.RollbackAtomic(); rerr != nil {
		i.fault(fmt.Errorf("rollback discard failed: %w", rerr))
	}
	return err
}

// trackedTx carries the session whose atomic block the transaction opened.
type trackedTx struct {
	tx   driver.Tx
	sess *Session
}

func (t *trackedTx) Commit() error {
	return t.tx.Commit()
}

func (t *trackedTx) Rollback() error {
	return t.tx.Rollback()
}

// trackedStmt carries the session of the connection the statement was
// prepared on.
type trackedStmt struct {
	driver.Stmt
	sess *Session
}

func (s *trackedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := s.Stmt.(driver.StmtQueryContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	return q.QueryContext(ctx, args)
}

func (s *trackedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	e, ok := s.Stmt.(driver.StmtExecContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	return e.ExecContext(ctx, args)
}

// Stats contains interceptor statistics.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Errors        uint64
	Invalidations uint64
}

// Stats returns interceptor stats.
func (i *Interceptor) Stats() *Stats {
	return &Stats{
		Hits:          atomic.LoadUint64(&i.stats.Hits),
		Misses:        atomic.LoadUint64(&i.stats.Misses),
		Errors:        atomic.LoadUint64(&i.stats.Errors),
		Invalidations: atomic.LoadUint64(&i.stats.Invalidations),
	}
}
