package archive

import (
	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// Layout is the size and alignment of an archived footprint.
type Layout = rel.Layout

// Resolver is the value produced by Serialize and consumed by Resolve.
type Resolver = any

// Serializer is the sink archives are written to.
type Serializer interface {
	Write(p []byte) error
	Pos() int
}

// Reserver is implemented by serializers that can hand out zeroed space to
// resolve footprints in place.
type Reserver interface {
	Reserve(n int) ([]byte, error)
}

// Deserializer meters the memory handed out while restoring values.
type Deserializer interface {
	Allocate(l Layout) error
	Deallocate(l Layout)
}

// Archive maps T to its archived form A.
type Archive[T, A any] interface {
	// Layout is the footprint of the archived form.
	Layout() Layout
	// Resolve writes the footprint of v, placed at pos, into out. out has
	// exactly Layout().Size zeroed bytes.
	Resolve(v T, pos int, r Resolver, out []byte)
	// Access returns the view of a footprint at pos. It performs no checks.
	Access(buf []byte, pos int) A
}

// Serialize writes the dependencies of a value.
type Serialize[T any] interface {
	Serialize(s Serializer, v T) (Resolver, error)
}

// Deserialize restores a value from its archived form.
type Deserialize[T, A any] interface {
	Deserialize(d Deserializer, a A) (T, error)
}

// CheckBytes validates the contents of a footprint at pos.
type CheckBytes interface {
	CheckBytes(c *validation.Context, pos int) error
}

// Archiver combines everything needed to write, read, restore and validate
// values of T.
type Archiver[T, A any] interface {
	Archive[T, A]
	Serialize[T]
	Deserialize[T, A]
	CheckBytes
}

// Checked is the subset of Archiver needed by CheckArchive.
type Checked[T, A any] interface {
	Archive[T, A]
	CheckBytes
}

// ArchiveUnsized maps an unsized T to a view over its payload.
type ArchiveUnsized[T, A any] interface {
	// Pointee describes the payload for pointers to it.
	Pointee() rel.Pointee
	// MakeAugment returns the augment stored with a pointer to v.
	MakeAugment(v T) rel.Augment
	// AccessUnsized returns the view of a payload at pos.
	AccessUnsized(buf []byte, pos int, aug rel.Augment) A
}

// SerializeUnsized writes an unsized payload and returns its position.
type SerializeUnsized[T any] interface {
	SerializeUnsized(s Serializer, v T) (int, error)
}

// DeserializeUnsized restores an unsized value. The allocation is charged to
// d; release it with ReleaseUnsized if the value is abandoned.
type DeserializeUnsized[T, A any] interface {
	DeserializeUnsized(d Deserializer, a A) (T, error)
}

// CheckUnsized validates the contents of a payload whose layout has already
// been bounds-checked and claimed.
type CheckUnsized interface {
	CheckUnsized(c *validation.Context, pos int, aug rel.Augment) error
}

// UnsizedArchiver combines the unsized capabilities.
type UnsizedArchiver[T, A any] interface {
	ArchiveUnsized[T, A]
	SerializeUnsized[T]
	DeserializeUnsized[T, A]
	CheckUnsized
}

// CheckedUnsized is the subset of UnsizedArchiver needed by
// CheckUnsizedArchive.
type CheckedUnsized[T, A any] interface {
	ArchiveUnsized[T, A]
	CheckUnsized
}

// ArchiveCopy marks an archiver whose archived bytes equal the native bytes
// of T on a little-endian host. Declaring it for a type with padding,
// pointers or a different size is a contract violation.
type ArchiveCopy interface {
	ArchiveCopy()
}
