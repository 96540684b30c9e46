package bufferpool

import (
	"fmt"
	"sync/atomic"
)

// Buffer is a reference-counted byte region, per spec §3. Retain bumps
// the count for an additional owner; Release drops it, returning the
// backing region to its sub-pool only when the count reaches zero. A
// release past zero is a defect and panics, matching spec §3's invariant
// that ref counts are always >= 0.
type Buffer struct {
	data     []byte
	position int
	limit    int

	pool   *Pool
	shift  int
	pooled bool
	refs   atomic.Int32
}

// Bytes returns the buffer's full backing slice (capacity 2^shift for a
// pooled buffer). Callers doing I/O should use Bytes()[Position():Limit()].
func (b *Buffer) Bytes() []byte { return b.data }

// Capacity returns the backing region's full capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Position returns the current read/write cursor.
func (b *Buffer) Position() int { return b.position }

// SetPosition moves the cursor.
func (b *Buffer) SetPosition(p int) { b.position = p }

// Limit returns the logical end of valid data in the buffer.
func (b *Buffer) Limit() int { return b.limit }

// SetLimit adjusts the logical end of valid data.
func (b *Buffer) SetLimit(l int) { b.limit = l }

// Slice returns the valid region [Position():Limit()).
func (b *Buffer) Slice() []byte { return b.data[b.position:b.limit] }

// Retain adds one more owner to the buffer.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release drops one owner. When the count reaches zero the backing
// region returns to its sub-pool (or is discarded, for a one-shot
// buffer above the pool's ceiling).
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("bufferpool: Buffer released below zero refcount (shift=%d)", b.shift))
	}
	if n == 0 && b.pooled {
		b.pool.release(b)
	}
}

// RefCount returns the current reference count, for tests and debugging.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }
