package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopRoundTrip(t *testing.T) {
	b := New()
	n, err := b.Push([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	assert.Equal(t, 5, b.Readable())
	got := b.Pop(5)
	assert.Equal(t, "hello", string(got))
	assert.True(t, b.IsEmpty())
}

func TestReadableTracksTotalPushesMinusPops(t *testing.T) {
	b := New()
	var pushed, popped int
	for i := 0; i < 100; i++ {
		n, err := b.Push([]byte("abc"))
		require.NoError(t, err)
		pushed += n
		if i%3 == 0 {
			popped += len(b.Pop(2))
		}
	}
	assert.Equal(t, pushed-popped, b.Readable())
}

func TestConsumeEmptyResetsCursors(t *testing.T) {
	b := New()
	_, _ = b.Push([]byte("xy"))
	b.Consume(2)
	assert.True(t, b.IsEmpty())

	// internal cursors reset to 0: pushing again should not grow unboundedly.
	_, err := b.Push([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, "z", string(b.ReadAddr()))
}

func TestClearResetsCursors(t *testing.T) {
	b := New()
	_, _ = b.Push([]byte("hello world"))
	b.Pop(3)
	b.Clear()
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, b.Readable())
}

func TestPushAtProduce(t *testing.T) {
	b := New()
	n, err := b.PushAt([]byte("world"), 5)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// region [0,5) is still unproduced garbage; fill it then produce all 10.
	_, err = b.PushAt([]byte("hello"), 0)
	require.NoError(t, err)
	b.Produce(10)

	assert.Equal(t, "helloworld", string(b.Pop(10)))
}

func TestGrowDoublesToPowerOfTwo(t *testing.T) {
	b := New()
	big := make([]byte, 100)
	_, err := b.Push(big)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(b.buf), 100)
	assert.Equal(t, 0, cap(b.buf)&(cap(b.buf)-1), "capacity should be a power of two")
}

func TestCompactionOnlyWhenReadGTZeroAndLowWritable(t *testing.T) {
	b := New()
	_, _ = b.Push(make([]byte, 2000))
	b.Consume(1999)
	before := len(b.buf)

	// 48 writable bytes left, read cursor > 0: a push larger than the tail
	// but smaller than tail+read should compact, not grow.
	_, err := b.Push(make([]byte, 100))
	require.NoError(t, err)
	assert.Equal(t, before, len(b.buf))
	assert.Equal(t, 0, b.r)
}

func TestShrinkReleasesDownToPowerOfTwo(t *testing.T) {
	b := New()
	_, _ = b.Push(make([]byte, 5000))
	b.Pop(4990)
	b.Shrink()
	assert.GreaterOrEqual(t, len(b.buf), b.Readable())
	assert.Less(t, len(b.buf), 5000)
}

func TestShrinkEmptyResets(t *testing.T) {
	b := New()
	_, _ = b.Push([]byte("abc"))
	b.Pop(3)
	b.Shrink()
	assert.Nil(t, b.buf)
	assert.Equal(t, 0, b.r)
	assert.Equal(t, 0, b.w)
}

func TestPeekAtDoesNotConsume(t *testing.T) {
	b := New()
	_, _ = b.Push([]byte("abcdef"))
	got := b.PeekAt(3, 2)
	assert.Equal(t, "cde", string(got))
	assert.Equal(t, 6, b.Readable())
}
