package rel

import (
	"errors"
	"fmt"
)

// ErrOffsetOverflow is the panic value cause when a delta does not fit in an
// Offset.
var ErrOffsetOverflow = errors.New("rel: offset overflow")

// Align is the alignment of an encoded RelPtr.
const Align = OffsetSize

// RelPtr is a self-relative pointer with an optional augment.
type RelPtr struct {
	Offset  Offset
	Augment Augment
}

// Size is the encoded size of a RelPtr of kind k.
func Size(k Kind) int {
	if k.HasAugment() {
		return 2 * OffsetSize
	}
	return OffsetSize
}

// Footprint is the layout of an encoded RelPtr of kind k.
func Footprint(k Kind) Layout {
	return Layout{Size: Size(k), Align: Align}
}

// New builds a pointer stored at from that targets to. It panics if the
// delta cannot be represented; callers writing more than the offset range
// into one buffer have broken the format's contract.
func New(from, to int, aug Augment) RelPtr {
	d := int64(to) - int64(from)
	if d < MinOffset || d > MaxOffset {
		panic(fmt.Errorf("%w: %d -> %d", ErrOffsetOverflow, from, to))
	}
	return RelPtr{Offset: Offset(d), Augment: aug}
}

// Target returns the absolute position the pointer refers to when stored at
// at.
func (p RelPtr) Target(at int) int {
	return at + int(p.Offset)
}

// Put encodes p into b, which must hold Size(k) bytes.
func (p RelPtr) Put(b []byte, k Kind) {
	putOffset(b, p.Offset)
	if k.HasAugment() {
		putLen(b[OffsetSize:], p.Augment)
	}
}

// Load decodes a pointer of kind k from b.
func Load(b []byte, k Kind) RelPtr {
	p := RelPtr{Offset: loadOffset(b)}
	if k.HasAugment() {
		p.Augment = loadLen(b[OffsetSize:])
	}
	return p
}

// Resolve loads the pointer stored at buf[at:] and returns its absolute
// target and augment.
func Resolve(buf []byte, at int, p Pointee) (int, Augment) {
	ptr := Load(buf[at:], p.Kind)
	return ptr.Target(at), ptr.Augment
}
