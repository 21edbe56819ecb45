package archive

import (
	"fmt"

	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// Block is a fixed head followed by a variable number of elements, stored
// as a single unsized payload.
type Block[H, T any] struct {
	Head H
	Tail []T
}

// ArchivedBlock is the view of an archived Block.
type ArchivedBlock[HA, A any] struct {
	head HA
	tail ArchivedSlice[A]
}

// Head returns the view of the head.
func (b ArchivedBlock[HA, A]) Head() HA { return b.head }

// Tail returns the view of the trailing elements.
func (b ArchivedBlock[HA, A]) Tail() ArchivedSlice[A] { return b.tail }

// BlockArchiver archives Block[H, T].
type BlockArchiver[H, HA, T, A any] struct {
	head Archiver[H, HA]
	elem Archiver[T, A]
}

// BlockOf returns the unsized archiver for a head of H followed by elements
// of T.
func BlockOf[H, HA, T, A any](head Archiver[H, HA], elem Archiver[T, A]) *BlockArchiver[H, HA, T, A] {
	return &BlockArchiver[H, HA, T, A]{head: head, elem: elem}
}

func (ba *BlockArchiver[H, HA, T, A]) Pointee() rel.Pointee {
	return rel.BlockPointee(ba.head.Layout(), ba.elem.Layout())
}

func (ba *BlockArchiver[H, HA, T, A]) MakeAugment(v Block[H, T]) rel.Augment {
	return rel.Augment(len(v.Tail))
}

func (ba *BlockArchiver[H, HA, T, A]) AccessUnsized(buf []byte, pos int, aug rel.Augment) ArchivedBlock[HA, A] {
	return ArchivedBlock[HA, A]{
		head: ba.head.Access(buf, pos),
		tail: ArchivedSlice[A]{
			buf:    buf,
			pos:    pos + ba.Pointee().ElemOffset(),
			n:      int(aug),
			stride: ba.elem.Layout().Stride(),
			access: ba.elem.Access,
		},
	}
}

func (ba *BlockArchiver[H, HA, T, A]) SerializeUnsized(s Serializer, v Block[H, T]) (int, error) {
	head, err := Prepare(s, ba.head, v.Head)
	if err != nil {
		return 0, err
	}
	tail := make([]*Pending[T, A], len(v.Tail))
	for i := range v.Tail {
		if tail[i], err = Prepare(s, ba.elem, v.Tail[i]); err != nil {
			return 0, err
		}
	}

	pos, err := AlignFor(s, ba.Pointee().Align())
	if err != nil {
		return 0, err
	}
	if _, err := head.Commit(s); err != nil {
		return 0, err
	}
	if _, err := AlignFor(s, ba.elem.Layout().Align); err != nil {
		return 0, err
	}
	for _, p := range tail {
		if _, err := p.Commit(s); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

func (ba *BlockArchiver[H, HA, T, A]) DeserializeUnsized(d Deserializer, a ArchivedBlock[HA, A]) (Block[H, T], error) {
	l, _ := ba.Pointee().Layout(rel.Augment(a.tail.n))
	if err := d.Allocate(l); err != nil {
		return Block[H, T]{}, err
	}
	head, err := ba.head.Deserialize(d, a.head)
	if err != nil {
		d.Deallocate(l)
		return Block[H, T]{}, err
	}
	out := Block[H, T]{Head: head}
	if a.tail.n > 0 {
		out.Tail = make([]T, a.tail.n)
	}
	for i := range out.Tail {
		if out.Tail[i], err = ba.elem.Deserialize(d, a.tail.At(i)); err != nil {
			d.Deallocate(l)
			return Block[H, T]{}, err
		}
	}
	return out, nil
}

func (ba *BlockArchiver[H, HA, T, A]) CheckUnsized(c *validation.Context, pos int, aug rel.Augment) error {
	if err := ba.head.CheckBytes(c, pos); err != nil {
		return fmt.Errorf("head: %w", err)
	}
	start := pos + ba.Pointee().ElemOffset()
	stride := ba.elem.Layout().Stride()
	for i := 0; i < int(aug); i++ {
		if err := ba.elem.CheckBytes(c, start+i*stride); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
