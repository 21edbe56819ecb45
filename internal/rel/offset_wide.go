//go:build wide_offsets

package rel

import (
	"encoding/binary"
	"math"
)

// Offset is the signed byte delta stored in a relative pointer.
type Offset = int64

const (
	// OffsetSize is the encoded width of an Offset and of a length augment.
	OffsetSize = 8
	// MinOffset and MaxOffset bound the representable deltas.
	MinOffset int64 = math.MinInt64
	MaxOffset int64 = math.MaxInt64
	// MaxLen is the largest augment a pointer can carry.
	MaxLen uint64 = math.MaxInt64
	// Width names the offset configuration compiled into this binary.
	Width = "wide"
)

func putOffset(b []byte, o Offset) { binary.LittleEndian.PutUint64(b, uint64(o)) }

func loadOffset(b []byte) Offset { return int64(binary.LittleEndian.Uint64(b)) }

func putLen(b []byte, n Augment) { binary.LittleEndian.PutUint64(b, uint64(n)) }

func loadLen(b []byte) Augment { return Augment(binary.LittleEndian.Uint64(b)) }
