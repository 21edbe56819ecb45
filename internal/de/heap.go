// Package de provides deserializer backends.
//
// Go's garbage collector owns the memory of deserialized values, so a
// deserializer here meters allocations rather than performing them. Heap
// enforces a byte budget across one deserialization so an archive that
// claims huge vectors cannot make the reader allocate without bound.
package de

import (
	"errors"
	"fmt"

	"github.com/TFMV/flasharc/internal/rel"
)

// ErrAllocLimit is the cause of every *AllocError.
var ErrAllocLimit = errors.New("deserializer allocation limit exceeded")

// AllocError reports an allocation that would exceed the budget.
type AllocError struct {
	Want  int
	Used  int
	Limit int
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("allocating %d bytes with %d in use exceeds limit of %d", e.Want, e.Used, e.Limit)
}

func (e *AllocError) Unwrap() error { return ErrAllocLimit }

// Heap is a metering deserializer. The zero value has no limit.
type Heap struct {
	limit int
	used  int
	peak  int
	count int
}

// NewHeap creates a Heap that refuses to exceed limit bytes. A limit of zero
// or less disables the check.
func NewHeap(limit int) *Heap {
	return &Heap{limit: max(limit, 0)}
}

// Allocate accounts for a value of layout l.
func (h *Heap) Allocate(l rel.Layout) error {
	if l.Size < 0 {
		return fmt.Errorf("de: negative allocation %d", l.Size)
	}
	if h.limit > 0 && l.Size > h.limit-h.used {
		return &AllocError{Want: l.Size, Used: h.used, Limit: h.limit}
	}
	h.used += l.Size
	h.count++
	h.peak = max(h.peak, h.used)
	return nil
}

// Deallocate returns the bytes of l to the budget.
func (h *Heap) Deallocate(l rel.Layout) {
	h.used = max(h.used-l.Size, 0)
}

// Used is the number of bytes currently accounted for.
func (h *Heap) Used() int { return h.used }

// Peak is the high-water mark of Used.
func (h *Heap) Peak() int { return h.peak }

// Allocations counts successful Allocate calls.
func (h *Heap) Allocations() int { return h.count }

// Reset clears usage so the Heap can meter another value.
func (h *Heap) Reset() {
	h.used, h.peak, h.count = 0, 0, 0
}
