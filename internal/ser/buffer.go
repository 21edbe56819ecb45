package ser

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// BufferAlign is the alignment of the first byte of every buffer this
// package allocates.
const BufferAlign = 16

// DefaultInitialSize is the starting capacity of a Buffer.
const DefaultInitialSize = 4096

// ErrCapacity is the cause of every *CapacityError.
var ErrCapacity = errors.New("serializer capacity exceeded")

// CapacityError reports a write that would grow a Buffer past its limit.
type CapacityError struct {
	Pos   int
	Want  int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("writing %d bytes at %d exceeds limit of %d bytes", e.Want, e.Pos, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// BufferOptions configures a Buffer.
type BufferOptions struct {
	// InitialSize is the starting capacity in bytes.
	InitialSize int
	// Limit caps the total size of the archive. Zero means unlimited.
	Limit int
}

// DefaultBufferOptions returns options with a 4KB start and no limit.
func DefaultBufferOptions() BufferOptions {
	return BufferOptions{InitialSize: DefaultInitialSize}
}

// AlignedBytes returns a zeroed slice of length n whose first byte is
// BufferAlign-aligned.
func AlignedBytes(n int) []byte {
	return alignedAlloc(n, n)
}

func alignedAlloc(n, capacity int) []byte {
	raw := make([]byte, capacity+BufferAlign)
	off := 0
	if mis := int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))) & (BufferAlign - 1)); mis != 0 {
		off = BufferAlign - mis
	}
	return raw[off : off+n : off+capacity]
}

// Buffer is an in-memory serializer.
type Buffer struct {
	data  []byte
	limit int
}

// NewBuffer creates a Buffer with the given options.
func NewBuffer(opts BufferOptions) *Buffer {
	size := opts.InitialSize
	if size <= 0 {
		size = DefaultInitialSize
	}
	if opts.Limit > 0 && size > opts.Limit {
		size = opts.Limit
	}
	return &Buffer{data: alignedAlloc(0, size), limit: opts.Limit}
}

// Pos is the number of bytes written so far.
func (b *Buffer) Pos() int { return len(b.data) }

// Bytes returns the archive written so far. The slice aliases the buffer and
// is invalidated by the next write or Reset.
func (b *Buffer) Bytes() []byte { return b.data }

// Limit returns the capacity limit, zero when unlimited.
func (b *Buffer) Limit() int { return b.limit }

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) error {
	dst, err := b.Reserve(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Reserve appends n zero bytes and returns them for the caller to fill. The
// returned slice is only valid until the next write.
func (b *Buffer) Reserve(n int) ([]byte, error) {
	pos := len(b.data)
	if n < 0 {
		return nil, fmt.Errorf("ser: negative reservation %d", n)
	}
	if b.limit > 0 && n > b.limit-pos {
		return nil, &CapacityError{Pos: pos, Want: n, Limit: b.limit}
	}
	b.ensureCapacity(n)
	b.data = b.data[:pos+n]
	dst := b.data[pos:]
	clear(dst)
	return dst, nil
}

// Detach returns the written bytes and leaves the buffer empty with a fresh
// backing array. The caller owns the returned slice.
func (b *Buffer) Detach() []byte {
	out := b.data
	b.data = alignedAlloc(0, DefaultInitialSize)
	return out
}

// Reset empties the buffer and keeps its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

func (b *Buffer) ensureCapacity(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := max(2*cap(b.data), need, DefaultInitialSize)
	if b.limit > 0 && newCap > b.limit {
		newCap = max(b.limit, need)
	}
	grown := alignedAlloc(len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return NewBuffer(DefaultBufferOptions())
	},
}

// GetBuffer gets an unlimited Buffer from the pool.
func GetBuffer() *Buffer {
	return bufferPool.Get().(*Buffer)
}

// PutBuffer returns a Buffer to the pool. Buffers with a limit are not
// pooled.
func PutBuffer(b *Buffer) {
	if b == nil || b.limit > 0 {
		return
	}
	b.Reset()
	bufferPool.Put(b)
}
