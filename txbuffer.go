package narwhal

// frame accumulates the invalidations recorded at one nesting level of an
// open atomic block. Each table maps to the clock reading taken when it was
// recorded; the stamp is provisional and only serves read-your-own-writes
// inside the transaction. The flush at outermost commit restamps everything
// with the commit-time reading.
type frame struct {
	tables map[string]float64
	// all holds the record-time stamp of a buffered invalidate-all, zero
	// when none was issued at this level.
	all float64
}

func newFrame() *frame {
	return &frame{tables: make(map[string]float64)}
}

func (f *frame) record(tables []string, at float64) {
	for _, t := range tables {
		if at > f.tables[t] {
			f.tables[t] = at
		}
	}
}

func (f *frame) recordAll(at float64) {
	if at > f.all {
		f.all = at
	}
}

// merge folds other into f, keeping the maximum stamp per table.
func (f *frame) merge(other *frame) {
	for t, at := range other.tables {
		if at > f.tables[t] {
			f.tables[t] = at
		}
	}
	f.recordAll(other.all)
}

func (f *frame) tableNames() []string {
	names := make([]string, 0, len(f.tables))
	for t := range f.tables {
		names = append(names, t)
	}
	return names
}

// txBuffer is the per-connection stack of pending-invalidation frames.
// Statements within one transaction execute sequentially, so the buffer
// needs no locking; only the flush into the shared store does, and that is
// the store's concern.
type txBuffer struct {
	frames []*frame
}

func (b *txBuffer) depth() int {
	return len(b.frames)
}

func (b *txBuffer) open() bool {
	return len(b.frames) > 0
}

// enter pushes a new empty frame: Idle -> Buffering(1) or
// Buffering(n) -> Buffering(n+1).
func (b *txBuffer) enter() {
	b.frames = append(b.frames, newFrame())
}

// top returns the receiving frame. Callers must hold an open block.
func (b *txBuffer) top() *frame {
	return b.frames[len(b.frames)-1]
}

// commit pops the top frame. For a nested block the popped frame merges into
// its parent and stays buffered; for the outermost block the frame is
// returned with flush=true and the caller applies it to the store.
func (b *txBuffer) commit() (popped *frame, flush bool, err error) {
	if len(b.frames) == 0 {
		return nil, false, ErrInvalidTransactionState
	}

	popped = b.frames[len(b.frames)-1]
	b.frames = b.frames[:len(b.frames)-1]

	if len(b.frames) > 0 {
		b.top().merge(popped)
		return popped, false, nil
	}

	return popped, true, nil
}

// rollback pops and discards the top frame. Invalidations issued by rolled
// back statements never reach the store.
func (b *txBuffer) rollback() error {
	if len(b.frames) == 0 {
		return ErrInvalidTransactionState
	}

	b.frames = b.frames[:len(b.frames)-1]
	return nil
}

// pending returns the largest buffered stamp relevant to the given tables
// across every open frame, zero when nothing buffered applies. This is what
// lets a transaction read its own not-yet-committed invalidations.
func (b *txBuffer) pending(tables []string) float64 {
	var max float64
	for _, f := range b.frames {
		if f.all > max {
			max = f.all
		}
		for _, t := range tables {
			if at := f.tables[t]; at > max {
				max = at
			}
		}
	}
	return max
}
