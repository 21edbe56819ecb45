package archive

import (
	"encoding/binary"
	"unsafe"

	"github.com/TFMV/flasharc/internal/validation"
)

// Number is the set of fixed-width scalar types.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// ScalarArchiver archives a fixed-width number as itself, little-endian and
// naturally aligned.
type ScalarArchiver[T Number] struct{}

// Scalar returns the archiver for T.
func Scalar[T Number]() ScalarArchiver[T] { return ScalarArchiver[T]{} }

var (
	Int8    = Scalar[int8]()
	Int16   = Scalar[int16]()
	Int32   = Scalar[int32]()
	Int64   = Scalar[int64]()
	Uint8   = Scalar[uint8]()
	Uint16  = Scalar[uint16]()
	Uint32  = Scalar[uint32]()
	Uint64  = Scalar[uint64]()
	Float32 = Scalar[float32]()
	Float64 = Scalar[float64]()
)

func scalarSize[T Number]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func (ScalarArchiver[T]) Layout() Layout {
	n := scalarSize[T]()
	return Layout{Size: n, Align: n}
}

func (ScalarArchiver[T]) Resolve(v T, _ int, _ Resolver, out []byte) {
	putScalar(out, v)
}

func (ScalarArchiver[T]) Access(buf []byte, pos int) T {
	return loadScalar[T](buf[pos:])
}

func (ScalarArchiver[T]) Serialize(Serializer, T) (Resolver, error) { return nil, nil }

func (ScalarArchiver[T]) Deserialize(_ Deserializer, a T) (T, error) { return a, nil }

func (ScalarArchiver[T]) CheckBytes(*validation.Context, int) error { return nil }

func (ScalarArchiver[T]) ArchiveCopy() {}

func putScalar[T Number](out []byte, v T) {
	p := unsafe.Pointer(&v)
	switch unsafe.Sizeof(v) {
	case 1:
		out[0] = *(*uint8)(p)
	case 2:
		binary.LittleEndian.PutUint16(out, *(*uint16)(p))
	case 4:
		binary.LittleEndian.PutUint32(out, *(*uint32)(p))
	case 8:
		binary.LittleEndian.PutUint64(out, *(*uint64)(p))
	}
}

func loadScalar[T Number](b []byte) T {
	var v T
	p := unsafe.Pointer(&v)
	switch unsafe.Sizeof(v) {
	case 1:
		*(*uint8)(p) = b[0]
	case 2:
		*(*uint16)(p) = binary.LittleEndian.Uint16(b)
	case 4:
		*(*uint32)(p) = binary.LittleEndian.Uint32(b)
	case 8:
		*(*uint64)(p) = binary.LittleEndian.Uint64(b)
	}
	return v
}

// BoolArchiver archives a bool as one byte, 0 or 1.
type BoolArchiver struct{}

// Bool is the archiver for bool.
var Bool BoolArchiver

func (BoolArchiver) Layout() Layout { return Layout{Size: 1, Align: 1} }

func (BoolArchiver) Resolve(v bool, _ int, _ Resolver, out []byte) {
	if v {
		out[0] = 1
	}
}

func (BoolArchiver) Access(buf []byte, pos int) bool { return buf[pos] != 0 }

func (BoolArchiver) Serialize(Serializer, bool) (Resolver, error) { return nil, nil }

func (BoolArchiver) Deserialize(_ Deserializer, a bool) (bool, error) { return a, nil }

func (BoolArchiver) CheckBytes(c *validation.Context, pos int) error {
	if b := c.Bytes()[pos]; b > 1 {
		return &validation.InvalidTagError{Pos: pos, Tag: b}
	}
	return nil
}
