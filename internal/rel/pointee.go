package rel

import (
	"math"
	"math/bits"
)

// Kind is the closed set of things a RelPtr may point at.
type Kind uint8

const (
	// Sized targets have a fixed layout and no augment.
	Sized Kind = iota
	// Slice targets are an optional fixed head followed by Augment elements.
	Slice
	// Str targets are Augment bytes of UTF-8.
	Str
)

// HasAugment reports whether pointers of this kind carry an augment.
func (k Kind) HasAugment() bool {
	return k != Sized
}

func (k Kind) String() string {
	switch k {
	case Sized:
		return "sized"
	case Slice:
		return "slice"
	case Str:
		return "str"
	default:
		return "unknown"
	}
}

// Augment is the metadata stored beside an offset for unsized targets.
type Augment uint64

// Pointee describes the target of a RelPtr: its kind, the layout of the
// fixed head (the whole value for Sized targets) and the element layout.
type Pointee struct {
	Kind Kind
	Head Layout
	Elem Layout
}

// SizedPointee describes a fixed-size target.
func SizedPointee(l Layout) Pointee {
	return Pointee{Kind: Sized, Head: l.Normalize()}
}

// SlicePointee describes a contiguous run of elements.
func SlicePointee(elem Layout) Pointee {
	return Pointee{Kind: Slice, Head: Layout{Align: 1}, Elem: elem.Normalize()}
}

// BlockPointee describes a fixed head followed by a run of elements.
func BlockPointee(head, elem Layout) Pointee {
	return Pointee{Kind: Slice, Head: head.Normalize(), Elem: elem.Normalize()}
}

// StrPointee describes a UTF-8 byte string.
func StrPointee() Pointee {
	return Pointee{Kind: Str, Head: Layout{Align: 1}, Elem: Layout{Size: 1, Align: 1}}
}

// Align is the alignment required by the target regardless of augment.
func (p Pointee) Align() int {
	if p.Kind == Sized {
		return p.Head.Align
	}
	return max(p.Head.Align, p.Elem.Align)
}

// ElemOffset is the distance from the start of the target to its first
// element.
func (p Pointee) ElemOffset() int {
	if p.Kind == Sized {
		return p.Head.Size
	}
	return AlignUp(p.Head.Size, p.Elem.Align)
}

// Layout computes the target layout for an augment. ok is false when the
// size would overflow or the augment exceeds MaxLen.
func (p Pointee) Layout(aug Augment) (Layout, bool) {
	if p.Kind == Sized {
		return p.Head, true
	}
	if uint64(aug) > MaxLen {
		return Layout{}, false
	}
	hi, lo := bits.Mul64(uint64(aug), uint64(p.Elem.Stride()))
	if hi != 0 {
		return Layout{}, false
	}
	head := uint64(p.ElemOffset())
	total := lo + head
	if total < lo || total > math.MaxInt {
		return Layout{}, false
	}
	return Layout{Size: int(total), Align: p.Align()}, true
}
