//go:build !wide_offsets

package rel

import (
	"encoding/binary"
	"math"
)

// Offset is the signed byte delta stored in a relative pointer.
type Offset = int32

const (
	// OffsetSize is the encoded width of an Offset and of a length augment.
	OffsetSize = 4
	// MinOffset and MaxOffset bound the representable deltas.
	MinOffset int64 = math.MinInt32
	MaxOffset int64 = math.MaxInt32
	// MaxLen is the largest augment a pointer can carry.
	MaxLen uint64 = math.MaxUint32
	// Width names the offset configuration compiled into this binary.
	Width = "compact"
)

func putOffset(b []byte, o Offset) { binary.LittleEndian.PutUint32(b, uint32(o)) }

func loadOffset(b []byte) Offset { return int32(binary.LittleEndian.Uint32(b)) }

func putLen(b []byte, n Augment) { binary.LittleEndian.PutUint32(b, uint32(n)) }

func loadLen(b []byte) Augment { return Augment(binary.LittleEndian.Uint32(b)) }
