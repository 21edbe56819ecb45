package archive

import (
	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// Buffer owns the bytes of a finished archive. It has no methods that
// mutate or resize the bytes, and it is the only form the entry points below
// accept, so views are never taken over a buffer that may still grow.
type Buffer struct {
	data []byte
}

// NewBuffer takes ownership of b. The caller must not modify b afterwards.
func NewBuffer(b []byte) Buffer {
	return Buffer{data: b}
}

// Bytes returns the archive bytes. They must be treated as read-only.
func (b Buffer) Bytes() []byte { return b.data }

// Len is the archive length.
func (b Buffer) Len() int { return len(b.data) }

// ArchivedValue returns the view of a footprint at pos without checking the
// buffer. buf must hold a valid archive written by a for this position.
func ArchivedValue[T, A any](a Archive[T, A], buf Buffer, pos int) A {
	return a.Access(buf.data, pos)
}

// ArchivedUnsizedValue follows the relative pointer at pos and returns the
// view of its payload without checking the buffer.
func ArchivedUnsizedValue[T, A any](u ArchiveUnsized[T, A], buf Buffer, pos int) A {
	return accessUnsized(u, buf.data, pos)
}

func accessUnsized[T, A any](u ArchiveUnsized[T, A], buf []byte, pos int) A {
	target, aug := rel.Resolve(buf, pos, u.Pointee())
	return u.AccessUnsized(buf, target, aug)
}

// CheckArchive validates the footprint of a at pos and everything reachable
// from it, then returns its view.
func CheckArchive[T, A any](a Checked[T, A], buf Buffer, pos int) (A, error) {
	if err := CheckRoots(buf, Root(a, pos)); err != nil {
		var zero A
		return zero, err
	}
	return a.Access(buf.data, pos), nil
}

// CheckUnsizedArchive validates the relative pointer at pos and its payload,
// then returns the payload view.
func CheckUnsizedArchive[T, A any](u CheckedUnsized[T, A], buf Buffer, pos int) (A, error) {
	if err := CheckRoots(buf, UnsizedRoot(u, pos)); err != nil {
		var zero A
		return zero, err
	}
	return ArchivedUnsizedValue(u, buf, pos), nil
}

// RootCheck validates one root within a shared context.
type RootCheck func(c *validation.Context) error

// Root checks a sized root at pos.
func Root[T, A any](a Checked[T, A], pos int) RootCheck {
	return func(c *validation.Context) error {
		l := a.Layout()
		if err := c.CheckRange(pos, l.Size, l.Align); err != nil {
			return err
		}
		if err := c.ClaimBytes(pos, l.Size); err != nil {
			return err
		}
		return a.CheckBytes(c, pos)
	}
}

// UnsizedRoot checks a relative pointer root at pos and its payload.
func UnsizedRoot[T, A any](u CheckedUnsized[T, A], pos int) RootCheck {
	return func(c *validation.Context) error {
		if err := c.CheckRange(pos, rel.Size(u.Pointee().Kind), rel.Align); err != nil {
			return err
		}
		if err := c.ClaimBytes(pos, rel.Size(u.Pointee().Kind)); err != nil {
			return err
		}
		return checkOwned(c, "root", pos, u)
	}
}

// CheckRoots validates several roots of one buffer in a single context, so
// bytes shared between roots are reported as overlaps.
func CheckRoots(buf Buffer, roots ...RootCheck) error {
	c := validation.NewContext(buf.data)
	for _, check := range roots {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}

type unsizedChecker interface {
	Pointee() rel.Pointee
	CheckUnsized(c *validation.Context, pos int, aug rel.Augment) error
}

// checkOwned validates an owning pointer stored at pos: the pointer
// footprint, its target, the target layout and claim, then the contents.
func checkOwned(c *validation.Context, container string, pos int, u unsizedChecker) error {
	p := u.Pointee()
	if err := c.CheckRange(pos, rel.Size(p.Kind), rel.Align); err != nil {
		return validation.Wrap(container, pos, validation.PointerLayer, err)
	}
	ptr := rel.Load(c.Bytes()[pos:], p.Kind)
	target, err := c.CheckRelPtr(pos, int64(ptr.Offset))
	if err != nil {
		return validation.Wrap(container, pos, validation.ContextLayer, err)
	}
	l, ok := p.Layout(ptr.Augment)
	if !ok {
		return validation.Wrap(container, pos, validation.ValueLayer,
			&validation.LayoutError{Augment: uint64(ptr.Augment)})
	}
	if err := c.CheckRange(target, l.Size, l.Align); err != nil {
		return validation.Wrap(container, pos, validation.ContextLayer, err)
	}
	if err := c.ClaimBytes(target, l.Size); err != nil {
		return validation.Wrap(container, pos, validation.ContextLayer, err)
	}
	return validation.Wrap(container, pos, validation.ValueLayer, u.CheckUnsized(c, target, ptr.Augment))
}
