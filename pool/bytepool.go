// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out zero-length slices with a fixed capacity. Slices of a
// different capacity are dropped on return.
type BytePool struct {
	pool        sync.Pool
	size        int
	outstanding atomic.Int64
}

// NewBytePool returns a pool of buffers with capacity size.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return bp
}

// Size returns the capacity of every buffer.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns an empty buffer of capacity Size.
func (b *BytePool) GetBuffer() []byte {
	b.outstanding.Add(1)
	return (*b.pool.Get().(*[]byte))[:0]
}

// PutBuffer returns a buffer obtained from GetBuffer.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.outstanding.Add(-1)
	buf = buf[:0]
	b.pool.Put(&buf)
}

// Outstanding returns the number of buffers not yet returned.
func (b *BytePool) Outstanding() int64 { return b.outstanding.Load() }
