package narwhal

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing cache keeps failing
	// after bounded retries. The prior timestamps are left intact; callers
	// decide whether to fail the read or execute without caching.
	ErrStoreUnavailable = errors.New("invalidation store unavailable")

	// ErrInvalidTransactionState is returned when CommitAtomic or
	// RollbackAtomic is called with no open atomic block. This is a framing
	// bug in the caller and is never silently ignored.
	ErrInvalidTransactionState = errors.New("no open atomic block")

	// ErrUnknownTable is returned when a table name is blank or, with a
	// configured table universe, not part of it.
	ErrUnknownTable = errors.New("unknown table")
)
