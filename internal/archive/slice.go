package archive

import (
	"fmt"
	"iter"
	"unsafe"

	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// ArchivedSlice is a view over a contiguous run of archived elements.
type ArchivedSlice[A any] struct {
	buf    []byte
	pos    int
	n      int
	stride int
	access func(buf []byte, pos int) A
}

// Len is the number of elements.
func (s ArchivedSlice[A]) Len() int { return s.n }

// Pos is the position of the first element.
func (s ArchivedSlice[A]) Pos() int { return s.pos }

// At returns the view of element i.
func (s ArchivedSlice[A]) At(i int) A {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("archive: index %d out of range [0:%d]", i, s.n))
	}
	return s.access(s.buf, s.pos+i*s.stride)
}

// All iterates over the elements in order.
func (s ArchivedSlice[A]) All() iter.Seq2[int, A] {
	return func(yield func(int, A) bool) {
		for i := 0; i < s.n; i++ {
			if !yield(i, s.access(s.buf, s.pos+i*s.stride)) {
				return
			}
		}
	}
}

// Bytes returns the raw bytes of the elements.
func (s ArchivedSlice[A]) Bytes() []byte {
	end := s.pos + s.n*s.stride
	return s.buf[s.pos:end:end]
}

// SliceView returns the elements of a scalar slice. On little-endian hosts
// with an aligned payload the result aliases the buffer; otherwise it is a
// decoded copy.
func SliceView[T Number](s ArchivedSlice[T]) []T {
	if s.n == 0 {
		return nil
	}
	raw := s.Bytes()
	size := scalarSize[T]()
	if littleEndianHost && uintptr(unsafe.Pointer(unsafe.SliceData(raw)))%uintptr(size) == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), s.n)
	}
	out := make([]T, s.n)
	for i := range out {
		out[i] = loadScalar[T](raw[i*size:])
	}
	return out
}

// SliceArchiver archives []T as a contiguous payload.
type SliceArchiver[T, A any] struct {
	elem     Archiver[T, A]
	copyable bool
}

// SliceOf returns the unsized archiver for []T.
func SliceOf[T, A any](elem Archiver[T, A]) *SliceArchiver[T, A] {
	_, isCopy := elem.(ArchiveCopy)
	var zero T
	return &SliceArchiver[T, A]{
		elem:     elem,
		copyable: isCopy && littleEndianHost && int(unsafe.Sizeof(zero)) == elem.Layout().Stride(),
	}
}

// Elem returns the element archiver.
func (sa *SliceArchiver[T, A]) Elem() Archiver[T, A] { return sa.elem }

func (sa *SliceArchiver[T, A]) Pointee() rel.Pointee {
	return rel.SlicePointee(sa.elem.Layout())
}

func (sa *SliceArchiver[T, A]) MakeAugment(v []T) rel.Augment {
	return rel.Augment(len(v))
}

func (sa *SliceArchiver[T, A]) AccessUnsized(buf []byte, pos int, aug rel.Augment) ArchivedSlice[A] {
	return ArchivedSlice[A]{
		buf:    buf,
		pos:    pos,
		n:      int(aug),
		stride: sa.elem.Layout().Stride(),
		access: sa.elem.Access,
	}
}

func (sa *SliceArchiver[T, A]) SerializeUnsized(s Serializer, v []T) (int, error) {
	if sa.copyable {
		pos, err := AlignFor(s, sa.elem.Layout().Align)
		if err != nil {
			return 0, err
		}
		if len(v) == 0 {
			return pos, nil
		}
		n := len(v) * sa.elem.Layout().Size
		if err := s.Write(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), n)); err != nil {
			return 0, err
		}
		return pos, nil
	}

	pending := make([]*Pending[T, A], len(v))
	for i := range v {
		p, err := Prepare(s, sa.elem, v[i])
		if err != nil {
			return 0, err
		}
		pending[i] = p
	}
	pos, err := AlignFor(s, sa.elem.Layout().Align)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		if _, err := p.Commit(s); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

func (sa *SliceArchiver[T, A]) DeserializeUnsized(d Deserializer, a ArchivedSlice[A]) ([]T, error) {
	l, _ := sa.Pointee().Layout(rel.Augment(a.n))
	if err := d.Allocate(l); err != nil {
		return nil, err
	}
	if a.n == 0 {
		return nil, nil
	}
	out := make([]T, a.n)
	if sa.copyable {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), a.n*a.stride)
		copy(dst, a.Bytes())
		return out, nil
	}
	for i := range out {
		v, err := sa.elem.Deserialize(d, a.At(i))
		if err != nil {
			d.Deallocate(l)
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (sa *SliceArchiver[T, A]) CheckUnsized(c *validation.Context, pos int, aug rel.Augment) error {
	if sa.copyable {
		return nil
	}
	stride := sa.elem.Layout().Stride()
	for i := 0; i < int(aug); i++ {
		if err := sa.elem.CheckBytes(c, pos+i*stride); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
