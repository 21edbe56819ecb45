package archive

import (
	"github.com/TFMV/flasharc/internal/validation"
)

// ArchivedOption is the view of an optional value.
type ArchivedOption[A any] struct {
	some bool
	val  A
}

// Get returns the value and whether it is present.
func (o ArchivedOption[A]) Get() (A, bool) { return o.val, o.some }

// IsSome reports whether a value is present.
func (o ArchivedOption[A]) IsSome() bool { return o.some }

// OptionArchiver archives *T as a tag byte followed by an inline T. A nil
// pointer is archived as tag 0 and zero bytes.
type OptionArchiver[T, A any] struct {
	inner  Archiver[T, A]
	layout Layout
	off    int
}

// Option returns the archiver for optional values of T.
func Option[T, A any](inner Archiver[T, A]) *OptionArchiver[T, A] {
	l, offs := StructLayout(Layout{Size: 1, Align: 1}, inner.Layout())
	return &OptionArchiver[T, A]{inner: inner, layout: l, off: offs[1]}
}

func (o *OptionArchiver[T, A]) Layout() Layout { return o.layout }

func (o *OptionArchiver[T, A]) Serialize(s Serializer, v *T) (Resolver, error) {
	if v == nil {
		return nil, nil
	}
	return o.inner.Serialize(s, *v)
}

func (o *OptionArchiver[T, A]) Resolve(v *T, pos int, r Resolver, out []byte) {
	if v == nil {
		return
	}
	out[0] = 1
	size := o.inner.Layout().Size
	o.inner.Resolve(*v, pos+o.off, r, out[o.off:o.off+size])
}

func (o *OptionArchiver[T, A]) Access(buf []byte, pos int) ArchivedOption[A] {
	if buf[pos] == 0 {
		return ArchivedOption[A]{}
	}
	return ArchivedOption[A]{some: true, val: o.inner.Access(buf, pos+o.off)}
}

func (o *OptionArchiver[T, A]) Deserialize(d Deserializer, a ArchivedOption[A]) (*T, error) {
	if !a.some {
		return nil, nil
	}
	v, err := o.inner.Deserialize(d, a.val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (o *OptionArchiver[T, A]) CheckBytes(c *validation.Context, pos int) error {
	switch tag := c.Bytes()[pos]; tag {
	case 0:
		return nil
	case 1:
		return o.inner.CheckBytes(c, pos+o.off)
	default:
		return &validation.InvalidTagError{Pos: pos, Tag: tag}
	}
}
