package narwhal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxBufferStateMachine(t *testing.T) {
	assert := require.New(t)

	var b txBuffer
	assert.False(b.open())
	assert.Equal(0, b.depth())

	b.enter()
	assert.True(b.open())
	assert.Equal(1, b.depth())

	b.enter()
	assert.Equal(2, b.depth())

	_, flush, err := b.commit()
	assert.Nil(err)
	assert.False(flush)
	assert.Equal(1, b.depth())

	f, flush, err := b.commit()
	assert.Nil(err)
	assert.True(flush)
	assert.NotNil(f)
	assert.False(b.open())
}

func TestTxBufferIdleErrors(t *testing.T) {
	assert := require.New(t)

	var b txBuffer

	// framing bugs must never be silent no-ops
	_, _, err := b.commit()
	assert.ErrorIs(err, ErrInvalidTransactionState)
	assert.ErrorIs(b.rollback(), ErrInvalidTransactionState)

	b.enter()
	_, _, err = b.commit()
	assert.Nil(err)
	_, _, err = b.commit()
	assert.ErrorIs(err, ErrInvalidTransactionState)
}

func TestTxBufferCommitMergesUpward(t *testing.T) {
	assert := require.New(t)

	var b txBuffer
	b.enter()
	b.top().record([]string{"outer"}, 1)

	b.enter()
	b.top().record([]string{"inner"}, 2)

	// inner commit promotes to the outer frame, nothing flushes yet
	_, flush, err := b.commit()
	assert.Nil(err)
	assert.False(flush)
	assert.Equal(2.0, b.pending([]string{"inner"}))

	f, flush, err := b.commit()
	assert.Nil(err)
	assert.True(flush)
	assert.Equal(map[string]float64{"outer": 1, "inner": 2}, f.tables)
}

func TestTxBufferRollbackDiscards(t *testing.T) {
	assert := require.New(t)

	var b txBuffer
	b.enter()
	b.top().record([]string{"keep"}, 1)

	b.enter()
	b.top().record([]string{"drop"}, 2)

	assert.Nil(b.rollback())
	assert.Equal(0.0, b.pending([]string{"drop"}))
	assert.Equal(1.0, b.pending([]string{"keep"}))

	f, flush, err := b.commit()
	assert.Nil(err)
	assert.True(flush)
	assert.Equal(map[string]float64{"keep": 1}, f.tables)
}

func TestTxBufferInnerCommitThenOuterRollback(t *testing.T) {
	assert := require.New(t)

	var b txBuffer
	b.enter()
	b.enter()
	b.top().record([]string{"t"}, 5)

	_, flush, err := b.commit()
	assert.Nil(err)
	assert.False(flush)

	// the promoted invalidation dies with the outer frame
	assert.Nil(b.rollback())
	assert.False(b.open())
	assert.Equal(0.0, b.pending([]string{"t"}))
}

func TestTxBufferPending(t *testing.T) {
	assert := require.New(t)

	var b txBuffer
	assert.Equal(0.0, b.pending([]string{"t"}))

	b.enter()
	b.top().record([]string{"t"}, 3)
	b.enter()
	b.top().record([]string{"t"}, 7)

	assert.Equal(7.0, b.pending([]string{"t"}))
	assert.Equal(0.0, b.pending([]string{"other"}))

	// a buffered invalidate-all covers every table
	b.top().recordAll(9)
	assert.Equal(9.0, b.pending([]string{"other"}))
	assert.Equal(9.0, b.pending(nil))
}

func TestFrameKeepsMaxStamp(t *testing.T) {
	assert := require.New(t)

	f := newFrame()
	f.record([]string{"t"}, 5)
	f.record([]string{"t"}, 3)
	assert.Equal(5.0, f.tables["t"])

	other := newFrame()
	other.record([]string{"t"}, 4)
	other.recordAll(2)
	f.merge(other)
	assert.Equal(5.0, f.tables["t"])
	assert.Equal(2.0, f.all)
}
