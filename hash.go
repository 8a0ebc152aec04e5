package narwhal

import (
	"crypto/sha256"
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/mitchellh/hashstructure/v2"
	msgpack "github.com/vmihailenco/msgpack/v4"

	"github.com/narwhalcache/narwhal/cache"
)

// QuerySignature identifies one cacheable read: the statement text, its bound
// arguments, the database and cache aliases it runs against, and the tables
// it reads. Two structurally equal signatures always produce the same key.
type QuerySignature struct {
	Query    string
	Args     []driver.NamedValue
	Database string
	Cache    string
	Tables   []string
}

// KeyFunc derives a cache key from a query signature. Implementations must be
// pure and deterministic. Table names are canonicalized (sorted, deduplicated)
// before hashing so that query planners reordering joins do not fragment the
// cache.
type KeyFunc func(sig QuerySignature) (string, error)

// canonicalTables returns a sorted, deduplicated copy of tables.
func canonicalTables(tables []string) []string {
	if len(tables) == 0 {
		return nil
	}

	out := make([]string, len(tables))
	copy(out, tables)
	sort.Strings(out)

	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}

	return out[:n]
}

// IsFresh reports whether a cached item is still valid given the most recent
// invalidation of the tables it read. This is the sole freshness rule; beyond
// it only the backend's own TTL applies.
func IsFresh(item *cache.Item, lastInvalidation float64) bool {
	return item.CachedAt >= lastInvalidation
}

// DefaultKeyFunc hashes the full signature with SHA-256 over its msgpack
// encoding. Collisions would serve one query's rows as another's, so the
// default digest is a cryptographic one.
func DefaultKeyFunc(sig QuerySignature) (string, error) {
	sig.Tables = canonicalTables(sig.Tables)

	b, err := msgpack.Marshal(&sig)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)

	key := fmt.Sprintf("q%da%dt%dh%x", len(sig.Query), len(sig.Args), len(sig.Tables), sum[:16])
	return key, nil
}

// FastKeyFunc hashes the signature with mitchellh/hashstructure (FNV, 64
// bits). Cheaper than DefaultKeyFunc but with a collision probability that is
// only statistically, not cryptographically, negligible.
func FastKeyFunc(sig QuerySignature) (string, error) {
	sig.Tables = canonicalTables(sig.Tables)

	u64, err := hashstructure.Hash(sig, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("q%da%dt%dh%s", len(sig.Query), len(sig.Args), len(sig.Tables), strconv.FormatUint(u64, 10))
	return key, nil
}

// NoopKeyFunc returns a readable representation of the signature. Whitespace
// in the query string is stripped off. Useful for debugging, not for
// production keys.
func NoopKeyFunc(sig QuerySignature) (string, error) {
	var b strings.Builder
	b.Grow(len(sig.Query) + len(sig.Args)*10) // arbitrary
	for _, ch := range sig.Query {
		if !unicode.IsSpace(ch) {
			b.WriteRune(ch)
		}
	}
	b.WriteRune(':')
	b.WriteString(fmt.Sprintf("%v", sig.Args))
	b.WriteRune(':')
	b.WriteString(sig.Database)
	b.WriteRune(':')
	b.WriteString(sig.Cache)
	b.WriteRune(':')
	b.WriteString(strings.Join(canonicalTables(sig.Tables), ","))

	return b.String(), nil
}
