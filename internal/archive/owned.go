package archive

import (
	"errors"

	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// ErrNilBox is returned when serializing a nil pointer through Box.
var ErrNilBox = errors.New("archive: cannot box a nil pointer")

// OwnedArchiver turns an unsized archiver into a sized one whose footprint
// is a relative pointer owning the payload.
type OwnedArchiver[T, A any] struct {
	name string
	u    UnsizedArchiver[T, A]
}

// Owned wraps u in an owning pointer. name labels validation errors.
func Owned[T, A any](name string, u UnsizedArchiver[T, A]) *OwnedArchiver[T, A] {
	return &OwnedArchiver[T, A]{name: name, u: u}
}

// String archives a Go string behind an owning pointer.
var String = Owned[string, ArchivedStr]("String", Str)

// Vec archives []T behind an owning pointer.
func Vec[T, A any](elem Archiver[T, A]) *OwnedArchiver[[]T, ArchivedSlice[A]] {
	return Owned[[]T, ArchivedSlice[A]]("Vec", SliceOf(elem))
}

// BoxOf archives an unsized value behind an owning pointer.
func BoxOf[T, A any](u UnsizedArchiver[T, A]) *OwnedArchiver[T, A] {
	return Owned("Box", u)
}

func (o *OwnedArchiver[T, A]) Layout() Layout {
	return rel.Footprint(o.u.Pointee().Kind)
}

func (o *OwnedArchiver[T, A]) Serialize(s Serializer, v T) (Resolver, error) {
	return o.u.SerializeUnsized(s, v)
}

func (o *OwnedArchiver[T, A]) Resolve(v T, pos int, r Resolver, out []byte) {
	ResolveUnsized[T, A](o.u, v, pos, r.(int)).Put(out, o.u.Pointee().Kind)
}

func (o *OwnedArchiver[T, A]) Access(buf []byte, pos int) A {
	return accessUnsized[T, A](o.u, buf, pos)
}

func (o *OwnedArchiver[T, A]) Deserialize(d Deserializer, a A) (T, error) {
	return o.u.DeserializeUnsized(d, a)
}

func (o *OwnedArchiver[T, A]) CheckBytes(c *validation.Context, pos int) error {
	return checkOwned(c, o.name, pos, o.u)
}

// SizedArchiver places a sized value behind a pointer with no augment.
type SizedArchiver[T, A any] struct {
	a Archiver[T, A]
}

// SizedPtr returns the unsized archiver for a sized value.
func SizedPtr[T, A any](a Archiver[T, A]) *SizedArchiver[T, A] {
	return &SizedArchiver[T, A]{a: a}
}

func (sp *SizedArchiver[T, A]) Pointee() rel.Pointee { return rel.SizedPointee(sp.a.Layout()) }

func (sp *SizedArchiver[T, A]) MakeAugment(T) rel.Augment { return 0 }

func (sp *SizedArchiver[T, A]) AccessUnsized(buf []byte, pos int, _ rel.Augment) A {
	return sp.a.Access(buf, pos)
}

func (sp *SizedArchiver[T, A]) SerializeUnsized(s Serializer, v T) (int, error) {
	return SerializeValue(s, sp.a, v)
}

func (sp *SizedArchiver[T, A]) DeserializeUnsized(d Deserializer, a A) (T, error) {
	l := sp.a.Layout()
	if err := d.Allocate(l); err != nil {
		var zero T
		return zero, err
	}
	v, err := sp.a.Deserialize(d, a)
	if err != nil {
		d.Deallocate(l)
	}
	return v, err
}

func (sp *SizedArchiver[T, A]) CheckUnsized(c *validation.Context, pos int, _ rel.Augment) error {
	return sp.a.CheckBytes(c, pos)
}

// BoxArchiver archives *T as an owning pointer to a T.
type BoxArchiver[T, A any] struct {
	owned *OwnedArchiver[T, A]
}

// Box returns the archiver for non-nil pointers to T.
func Box[T, A any](inner Archiver[T, A]) *BoxArchiver[T, A] {
	return &BoxArchiver[T, A]{owned: Owned[T, A]("Box", SizedPtr(inner))}
}

func (b *BoxArchiver[T, A]) Layout() Layout { return b.owned.Layout() }

func (b *BoxArchiver[T, A]) Serialize(s Serializer, v *T) (Resolver, error) {
	if v == nil {
		return nil, ErrNilBox
	}
	return b.owned.Serialize(s, *v)
}

func (b *BoxArchiver[T, A]) Resolve(v *T, pos int, r Resolver, out []byte) {
	b.owned.Resolve(*v, pos, r, out)
}

func (b *BoxArchiver[T, A]) Access(buf []byte, pos int) A { return b.owned.Access(buf, pos) }

func (b *BoxArchiver[T, A]) Deserialize(d Deserializer, a A) (*T, error) {
	v, err := b.owned.Deserialize(d, a)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (b *BoxArchiver[T, A]) CheckBytes(c *validation.Context, pos int) error {
	return b.owned.CheckBytes(c, pos)
}
