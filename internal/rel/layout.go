package rel

// Layout is the size and alignment of an archived footprint.
type Layout struct {
	Size  int
	Align int
}

// AlignUp rounds pos up to the next multiple of align. align must be a power
// of two; values below one are treated as one.
func AlignUp(pos, align int) int {
	if align <= 1 {
		return pos
	}
	return (pos + align - 1) &^ (align - 1)
}

// Stride is the distance between consecutive elements of this layout.
func (l Layout) Stride() int {
	return AlignUp(l.Size, l.Align)
}

// Normalize returns l with a minimum alignment of one.
func (l Layout) Normalize() Layout {
	if l.Align < 1 {
		l.Align = 1
	}
	return l
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
