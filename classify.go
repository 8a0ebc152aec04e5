package narwhal

// StatementKind is the classification of one executed statement.
type StatementKind int

const (
	// KindRead marks a cacheable SELECT-like statement.
	KindRead StatementKind = iota
	// KindWrite marks a statement that invalidates its table set.
	KindWrite
	// KindIgnore marks a statement the engine takes no action on.
	KindIgnore
)

// Hint is the read/write hint supplied by the execution layer. The engine
// never parses SQL; the hint plus the statement's table set is all it sees.
type Hint int

const (
	// HintQuery marks statements arriving through the query path.
	HintQuery Hint = iota
	// HintExec marks statements arriving through the exec path.
	HintExec
)

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// ExcludedTables are never tracked: reads of them are not tied to
	// invalidation and writes to them invalidate nothing. Use this for the
	// cache's own backing tables to avoid self-invalidation loops.
	ExcludedTables []string

	// InvalidateRaw decides what happens to a write whose table set could
	// not be resolved (raw SQL with no @invalidate-tables attribute and no
	// TablesFunc). When true such writes conservatively invalidate the whole
	// scope; when false they are ignored and explicit Invalidate calls
	// become the caller's responsibility.
	InvalidateRaw bool
}

// Classifier decides whether an executed statement is a cacheable read, an
// invalidating write, or a statement to ignore, and narrows its table set to
// the tracked subset.
type Classifier struct {
	excluded      map[string]struct{}
	invalidateRaw bool
}

// NewClassifier returns a Classifier with the given configuration.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	excluded := make(map[string]struct{}, len(cfg.ExcludedTables))
	for _, t := range cfg.ExcludedTables {
		excluded[t] = struct{}{}
	}
	return &Classifier{
		excluded:      excluded,
		invalidateRaw: cfg.InvalidateRaw,
	}
}

// Classify returns the statement kind and the tracked subset of tables.
// A KindWrite result with an empty table set means "invalidate everything in
// scope" (the raw-write policy); a read with an empty set is cacheable under
// TTL alone.
func (c *Classifier) Classify(hint Hint, tables []string) (StatementKind, []string) {
	tracked := tables[:0:0]
	for _, t := range tables {
		if _, ok := c.excluded[t]; !ok {
			tracked = append(tracked, t)
		}
	}

	if hint == HintQuery {
		return KindRead, tracked
	}

	if len(tables) == 0 {
		if c.invalidateRaw {
			return KindWrite, nil
		}
		return KindIgnore, nil
	}

	// All named tables excluded: writing them must not invalidate anything.
	if len(tracked) == 0 {
		return KindIgnore, nil
	}

	return KindWrite, tracked
}
