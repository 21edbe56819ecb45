package archive

import (
	"github.com/TFMV/flasharc/internal/rel"
)

var zeros [64]byte

// Pad writes n zero bytes.
func Pad(s Serializer, n int) error {
	for n > 0 {
		k := min(n, len(zeros))
		if err := s.Write(zeros[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// AlignFor pads s to a multiple of align and returns the new position.
func AlignFor(s Serializer, align int) (int, error) {
	pos := s.Pos()
	if err := Pad(s, rel.AlignUp(pos, align)-pos); err != nil {
		return 0, err
	}
	return s.Pos(), nil
}

// ResolveAligned aligns s for a and writes the footprint of v, returning its
// position.
func ResolveAligned[T, A any](s Serializer, a Archive[T, A], v T, r Resolver) (int, error) {
	l := a.Layout()
	pos, err := AlignFor(s, l.Align)
	if err != nil {
		return 0, err
	}
	if rs, ok := s.(Reserver); ok {
		out, err := rs.Reserve(l.Size)
		if err != nil {
			return 0, err
		}
		a.Resolve(v, pos, r, out)
		return pos, nil
	}
	out := make([]byte, l.Size)
	a.Resolve(v, pos, r, out)
	if err := s.Write(out); err != nil {
		return 0, err
	}
	return pos, nil
}

// SerializeValue writes v with its dependencies and returns the position of
// its footprint.
func SerializeValue[T, A any](s Serializer, a Archiver[T, A], v T) (int, error) {
	r, err := a.Serialize(s, v)
	if err != nil {
		return 0, err
	}
	return ResolveAligned(s, a, v, r)
}

// ResolveUnsized builds the pointer stored at from to the payload of v at to.
func ResolveUnsized[T, A any](u ArchiveUnsized[T, A], v T, from, to int) rel.RelPtr {
	return rel.New(from, to, u.MakeAugment(v))
}

// SerializeUnsizedValue writes the payload of v followed by a relative
// pointer to it, and returns the position of the pointer.
func SerializeUnsizedValue[T, A any](s Serializer, u UnsizedArchiver[T, A], v T) (int, error) {
	to, err := u.SerializeUnsized(s, v)
	if err != nil {
		return 0, err
	}
	k := u.Pointee().Kind
	pos, err := AlignFor(s, rel.Align)
	if err != nil {
		return 0, err
	}
	var ptr [2 * rel.OffsetSize]byte
	ResolveUnsized(u, v, pos, to).Put(ptr[:], k)
	if err := s.Write(ptr[:rel.Size(k)]); err != nil {
		return 0, err
	}
	return pos, nil
}

// ReleaseUnsized returns the allocation of an abandoned unsized value to d.
func ReleaseUnsized(d Deserializer, p rel.Pointee, aug rel.Augment) {
	if l, ok := p.Layout(aug); ok {
		d.Deallocate(l)
	}
}

// StructLayout lays out fields in order with C rules and returns the struct
// layout and the offset of each field.
func StructLayout(fields ...Layout) (Layout, []int) {
	offsets := make([]int, len(fields))
	off, align := 0, 1
	for i, f := range fields {
		f = f.Normalize()
		off = rel.AlignUp(off, f.Align)
		offsets[i] = off
		off += f.Size
		align = max(align, f.Align)
	}
	return Layout{Size: rel.AlignUp(off, align), Align: align}, offsets
}
