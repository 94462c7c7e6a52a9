// Package buffer provides pooled transfer buffers. A benchmark run uses
// one fixed transfer size, so the pool holds buffers of a single size and
// can hand out alignment-adjusted slices for bypass-cache I/O.
package buffer

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// DirectIOAlignment is the memory alignment required for O_DIRECT
// transfers on common filesystems.
const DirectIOAlignment = 4096

// Pool recycles transfer buffers of one size to keep a pipelined phase
// from allocating per submission.
type Pool struct {
	size  int
	align int
	pool  sync.Pool

	allocated atomic.Int64
	reused    atomic.Int64
}

// New creates a pool of size-byte buffers. If align > 0, buffers are
// aligned to that boundary.
func New(size, align int) *Pool {
	p := &Pool{size: size, align: align}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return p.alloc()
	}
	return p
}

// Size returns the length of buffers handed out by the pool.
func (p *Pool) Size() int {
	return p.size
}

// Get returns a buffer of the pool's size. Contents are undefined; the
// caller fills it before use.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if len(buf) != p.size {
		// Sizes never change within a pool, but guard against a
		// caller returning a resliced buffer.
		return p.alloc()
	}
	p.reused.Add(1)
	return buf
}

// Put returns a buffer for reuse. Buffers not obtained from Get are
// ignored.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:p.size]) //nolint:staticcheck // slice reuse is the point
}

func (p *Pool) alloc() []byte {
	if p.align <= 0 {
		return make([]byte, p.size)
	}
	raw := make([]byte, p.size+p.align)
	off := 0
	if rem := sliceAddr(raw) % uintptr(p.align); rem != 0 {
		off = p.align - int(rem)
	}
	return raw[off : off+p.size : off+p.size]
}

func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Stats reports how many buffers the pool has allocated and recycled.
type Stats struct {
	Allocated int64 `json:"allocated"`
	Reused    int64 `json:"reused"`
}

// GetStats returns current pool counters.
func (p *Pool) GetStats() Stats {
	return Stats{
		Allocated: p.allocated.Load(),
		Reused:    p.reused.Load() - p.allocated.Load(),
	}
}
