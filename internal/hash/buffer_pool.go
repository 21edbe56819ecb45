package hash

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the read buffer size used for hashing files.
const DefaultBufferSize = 1024 * 1024

// BufferPoolMetrics holds counters for a BufferPool.
type BufferPoolMetrics struct {
	Gets            uint64
	Puts            uint64
	NewAllocations  uint64
	RejectedBuffers uint64 // Buffers too small to be put back
	Size            int
	Name            string
}

func (m BufferPoolMetrics) String() string {
	return fmt.Sprintf("BufferPool '%s': gets=%d puts=%d new=%d rejected=%d size=%d",
		m.Name, m.Gets, m.Puts, m.NewAllocations, m.RejectedBuffers, m.Size)
}

// BufferPool provides reusable read buffers for hashing.
type BufferPool struct {
	pool sync.Pool
	size int
	name string

	gets, puts, allocs, rejected atomic.Uint64
}

// NewBufferPool creates a pool of buffers of the given size.
func NewBufferPool(name string, size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BufferPool{size: size, name: name}
	bp.pool.New = func() interface{} {
		bp.allocs.Add(1)
		buffer := make([]byte, size)
		return &buffer // Store pointer to avoid copying large slices
	}
	return bp
}

// Get retrieves a buffer of the pool's size.
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return *bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers smaller than the pool size are
// dropped.
func (bp *BufferPool) Put(buffer []byte) {
	bp.puts.Add(1)
	if cap(buffer) < bp.size {
		bp.rejected.Add(1)
		return
	}
	buffer = buffer[:bp.size]
	bp.pool.Put(&buffer)
}

// Metrics returns a snapshot of the pool counters.
func (bp *BufferPool) Metrics() BufferPoolMetrics {
	return BufferPoolMetrics{
		Gets:            bp.gets.Load(),
		Puts:            bp.puts.Load(),
		NewAllocations:  bp.allocs.Load(),
		RejectedBuffers: bp.rejected.Load(),
		Size:            bp.size,
		Name:            bp.name,
	}
}

// DefaultBufferPool is the shared pool used when Options.Pool is nil.
var DefaultBufferPool = NewBufferPool("default", DefaultBufferSize)
