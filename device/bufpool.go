package device

import (
	"math/bits"

	"github.com/ardnew/softrescue/pkg"
)

// BufferPool tracks ownership of the hardware packet buffers.
//
// The pool is a bitmap with one bit per buffer; a set bit means the buffer
// is free. A buffer is owned by exactly one party at a time: the pool, an
// available FIFO, the receive FIFO, or an IN endpoint.
type BufferPool struct {
	free uint32
}

const poolAllFree = ^uint32(0)

// NewBufferPool returns a pool with every buffer free.
func NewBufferPool() BufferPool {
	return BufferPool{free: poolAllFree}
}

// Reset marks every buffer free.
func (p *BufferPool) Reset() {
	p.free = poolAllFree
}

// Get allocates the lowest-numbered free buffer.
// It panics with [pkg.ErrPoolExhausted] if no buffer is free; callers must
// check [BufferPool.Empty] first.
func (p *BufferPool) Get() uint8 {
	if p.free == 0 {
		panic(pkg.ErrPoolExhausted)
	}
	id := bits.TrailingZeros32(p.free)
	p.free &^= 1 << id
	return uint8(id)
}

// Put releases buffer id back to the pool.
// It panics with [pkg.ErrPoolCorrupt] if the buffer is already free.
func (p *BufferPool) Put(id uint8) {
	mask := uint32(1) << (id % NumBuffers)
	if p.free&mask != 0 {
		panic(pkg.ErrPoolCorrupt)
	}
	p.free |= mask
}

// Empty reports whether no buffer is free.
func (p *BufferPool) Empty() bool {
	return p.free == 0
}

// Free returns the number of free buffers.
func (p *BufferPool) Free() int {
	return bits.OnesCount32(p.free)
}
