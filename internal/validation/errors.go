package validation

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds reports a range or pointer that leaves the buffer.
	ErrOutOfBounds = errors.New("out of bounds")
	// ErrOverlap reports bytes claimed by more than one value.
	ErrOverlap = errors.New("overlapping claim")
	// ErrUnaligned reports a position that violates its alignment.
	ErrUnaligned = errors.New("unaligned position")
	// ErrInvalidLayout reports an augment whose layout cannot be computed.
	ErrInvalidLayout = errors.New("invalid layout")
	// ErrInvalidUTF8 reports string bytes that are not UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
	// ErrInvalidTag reports a discriminant byte with no meaning.
	ErrInvalidTag = errors.New("invalid tag")
)

// BoundsError is returned when [Pos, Pos+Size) is not inside the buffer.
type BoundsError struct {
	Pos  int64
	Size int64
	Len  int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("range [%d, %d) outside buffer of length %d", e.Pos, e.Pos+e.Size, e.Len)
}

func (e *BoundsError) Unwrap() error { return ErrOutOfBounds }

// OverlapError is returned when a claim intersects an earlier claim.
type OverlapError struct {
	Pos, Size       int
	PrevPos, PrevSz int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("claim [%d, %d) overlaps [%d, %d)", e.Pos, e.Pos+e.Size, e.PrevPos, e.PrevPos+e.PrevSz)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// AlignError is returned when a position is not a multiple of its alignment.
type AlignError struct {
	Pos   int
	Align int
}

func (e *AlignError) Error() string {
	return fmt.Sprintf("position %d is not aligned to %d", e.Pos, e.Align)
}

func (e *AlignError) Unwrap() error { return ErrUnaligned }

// LayoutError is returned when an augment describes an impossible target.
type LayoutError struct {
	Augment uint64
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("augment %d does not describe a valid layout", e.Augment)
}

func (e *LayoutError) Unwrap() error { return ErrInvalidLayout }

// InvalidUTF8Error carries the position of string bytes that failed to
// decode.
type InvalidUTF8Error struct {
	Pos int
	Len int
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("string of %d bytes at %d is not valid utf-8", e.Len, e.Pos)
}

func (e *InvalidUTF8Error) Unwrap() error { return ErrInvalidUTF8 }

// InvalidTagError carries an unknown discriminant.
type InvalidTagError struct {
	Pos int
	Tag byte
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid tag %#x at %d", e.Tag, e.Pos)
}

func (e *InvalidTagError) Unwrap() error { return ErrInvalidTag }

// Layer says which part of an owned pointer failed to validate.
type Layer uint8

const (
	// PointerLayer is the pointer footprint itself.
	PointerLayer Layer = iota
	// ValueLayer is the pointee: its layout and contents.
	ValueLayer
	// ContextLayer is the target range: its bounds, alignment or claim.
	ContextLayer
)

func (l Layer) String() string {
	switch l {
	case PointerLayer:
		return "pointer"
	case ValueLayer:
		return "value"
	case ContextLayer:
		return "context"
	default:
		return "unknown"
	}
}

// OwnedPointerError wraps a failure inside an owning container such as a
// string, vector or box.
type OwnedPointerError struct {
	Container string
	Pos       int
	Layer     Layer
	Err       error
}

func (e *OwnedPointerError) Error() string {
	return fmt.Sprintf("%s at %d: %s check failed: %v", e.Container, e.Pos, e.Layer, e.Err)
}

func (e *OwnedPointerError) Unwrap() error { return e.Err }

// Wrap builds an OwnedPointerError, or returns nil when err is nil.
func Wrap(container string, pos int, layer Layer, err error) error {
	if err == nil {
		return nil
	}
	return &OwnedPointerError{Container: container, Pos: pos, Layer: layer, Err: err}
}

// Innermost returns the deepest OwnedPointerError in err's chain, which
// names the pointer that actually failed rather than the outer container.
func Innermost(err error) (*OwnedPointerError, bool) {
	var owned *OwnedPointerError
	if !errors.As(err, &owned) {
		return nil, false
	}
	for {
		var inner *OwnedPointerError
		if !errors.As(owned.Err, &inner) {
			return owned, true
		}
		owned = inner
	}
}
