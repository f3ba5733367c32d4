// Package buffer implements a contiguous, growable byte buffer with
// separate read and write cursors, tuned for the connection recv/send
// path: amortised-O(1) push/pop with no allocation on the steady-state
// hot path.
package buffer

import (
	"math"

	"github.com/pkg/errors"
)

// MaxBufferSize is the largest number of readable bytes a Buffer will
// ever hold. Pushing past it fails with ErrOverflow.
const MaxBufferSize = math.MaxInt64 / 2

// waterMark is the free-tail-space threshold below which assureSpace
// will compact (memmove) rather than grow.
const waterMark = 1024

// minCapacity is the smallest allocation assureSpace will make.
const minCapacity = 64

// ErrOverflow is returned by Push/PushAt when the push would grow the
// buffer's readable bytes past MaxBufferSize.
var ErrOverflow = errors.New("buffer: overflow")

// Buffer is a contiguous byte region with read-cursor <= write-cursor
// <= cap(buf). It is not safe for concurrent use; callers that share a
// Buffer across goroutines must provide their own synchronisation.
type Buffer struct {
	buf []byte
	r   int // read cursor
	w   int // write cursor
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Readable reports the number of bytes available to Pop/Peek.
func (b *Buffer) Readable() int { return b.w - b.r }

// Writable reports the number of bytes available to Push without
// growing the backing array.
func (b *Buffer) Writable() int { return len(b.buf) - b.w }

// IsEmpty reports whether there is nothing left to read.
func (b *Buffer) IsEmpty() bool { return b.Readable() == 0 }

// ReadAddr returns the slice of currently readable bytes. The slice
// aliases the buffer's storage and is only valid until the next
// mutating call (Push, Consume, Shrink, Clear, ...).
func (b *Buffer) ReadAddr() []byte { return b.buf[b.r:b.w] }

// WriteAddr returns the slice of currently writable bytes, valid
// until the next mutating call.
func (b *Buffer) WriteAddr() []byte { return b.buf[b.w:] }

// Push appends data to the buffer, growing or compacting as needed.
// It returns the number of bytes written (always len(data) on
// success) or ErrOverflow if the push would exceed MaxBufferSize.
func (b *Buffer) Push(data []byte) (int, error) {
	n, err := b.PushAt(data, 0)
	if err != nil {
		return 0, err
	}
	b.Produce(n)
	return n, nil
}

// PushAt writes data at the given offset past the current write
// cursor without advancing it (the caller must call Produce
// separately). It is used to reserve space and fill it out of order.
func (b *Buffer) PushAt(data []byte, offset int) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if len(data)+offset > MaxBufferSize-b.Readable() {
		return 0, ErrOverflow
	}
	if err := b.assureSpace(len(data) + offset); err != nil {
		return 0, err
	}
	copy(b.buf[b.w+offset:], data)
	return len(data), nil
}

// Produce advances the write cursor by n, marking n more bytes as
// readable after a PushAt/WriteAddr round trip.
func (b *Buffer) Produce(n int) { b.w += n }

// Peek returns up to n readable bytes without consuming them.
func (b *Buffer) Peek(n int) []byte { return b.PeekAt(n, 0) }

// PeekAt returns up to n readable bytes starting offset bytes past
// the read cursor, without consuming them.
func (b *Buffer) PeekAt(n, offset int) []byte {
	readable := b.Readable()
	if n == 0 || readable <= offset {
		return nil
	}
	if n+offset > readable {
		n = readable - offset
	}
	return b.buf[b.r+offset : b.r+offset+n]
}

// Pop returns up to n readable bytes and consumes them.
func (b *Buffer) Pop(n int) []byte {
	data := b.Peek(n)
	b.Consume(len(data))
	return data
}

// Consume advances the read cursor by n. When the buffer becomes
// empty both cursors reset to zero.
func (b *Buffer) Consume(n int) {
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
	}
}

// Clear discards all readable bytes and resets both cursors, keeping
// the backing array for reuse.
func (b *Buffer) Clear() {
	b.r, b.w = 0, 0
}

// Shrink releases memory down to the next power of two at least as
// large as the currently readable bytes. It is the caller's
// responsibility to ensure no slice returned by ReadAddr/WriteAddr is
// still in use — Shrink reallocates the backing array.
func (b *Buffer) Shrink() {
	readable := b.Readable()
	if readable == 0 {
		b.buf = nil
		b.r, b.w = 0, 0
		return
	}

	newCap := nextPow2(readable)
	if newCap >= len(b.buf) {
		return
	}

	tmp := make([]byte, newCap)
	copy(tmp, b.buf[b.r:b.w])
	b.buf = tmp
	b.r, b.w = 0, readable
}

// assureSpace grows or compacts the backing array so that size more
// bytes can be written past the current write cursor.
func (b *Buffer) assureSpace(size int) error {
	if size <= b.Writable() {
		return nil
	}

	newCap := len(b.buf)
	for size > b.Writable()+b.r {
		if newCap < minCapacity {
			newCap = minCapacity
		} else if newCap <= MaxBufferSize {
			newCap <<= 1
		} else {
			return errors.Wrap(ErrOverflow, "assureSpace")
		}
		grown := make([]byte, newCap)
		copy(grown, b.buf[:b.w])
		b.buf = grown
	}

	if b.r > 0 && b.Writable() < waterMark {
		readable := b.Readable()
		copy(b.buf, b.buf[b.r:b.w])
		b.r = 0
		b.w = readable
	}

	return nil
}

func nextPow2(n int) int {
	p := minCapacity
	for p < n {
		p <<= 1
	}
	return p
}
