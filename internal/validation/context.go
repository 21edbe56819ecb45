// Package validation checks archive buffers of unknown origin.
//
// A Context tracks the buffer bounds and the set of byte ranges already
// claimed by validated values. Claims are kept sorted so an overlapping
// claim is found with one binary search. No value may be reached through two
// paths: that is what makes it safe to hand out views over the bytes once
// validation succeeds.
//
// A Context is single-use and not safe for concurrent use. After any error
// it must be discarded.
package validation

import (
	"slices"
	"sort"
)

type span struct {
	pos, end int
}

// Context is the state of one validation pass.
type Context struct {
	buf     []byte
	claims  []span
	claimed int
}

// NewContext starts a validation pass over buf.
func NewContext(buf []byte) *Context {
	return &Context{buf: buf}
}

// Bytes returns the buffer under validation.
func (c *Context) Bytes() []byte { return c.buf }

// Len is the buffer length.
func (c *Context) Len() int { return len(c.buf) }

// Claimed is the total number of bytes claimed so far.
func (c *Context) Claimed() int { return c.claimed }

// CheckRange verifies that [pos, pos+size) lies inside the buffer and that
// pos is a multiple of align.
func (c *Context) CheckRange(pos, size, align int) error {
	if pos < 0 || size < 0 || pos > len(c.buf) || size > len(c.buf)-pos {
		return &BoundsError{Pos: int64(pos), Size: int64(size), Len: len(c.buf)}
	}
	if align > 1 && pos&(align-1) != 0 {
		return &AlignError{Pos: pos, Align: align}
	}
	return nil
}

// CheckRelPtr computes base+offset and verifies the target lies inside the
// buffer. A target equal to the buffer length is accepted so empty payloads
// placed at the very end remain valid.
func (c *Context) CheckRelPtr(base int, offset int64) (int, error) {
	if base < 0 || base > len(c.buf) {
		return 0, &BoundsError{Pos: int64(base), Len: len(c.buf)}
	}
	b := int64(base)
	if (offset > 0 && b > int64(len(c.buf))-offset) || offset < -b {
		return 0, &BoundsError{Pos: b + offset, Len: len(c.buf)}
	}
	return int(b + offset), nil
}

// ClaimBytes records [pos, pos+size) as owned by exactly one value. An empty
// claim always succeeds and records nothing. On error the record is left
// unchanged.
func (c *Context) ClaimBytes(pos, size int) error {
	if err := c.CheckRange(pos, size, 1); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	s := span{pos: pos, end: pos + size}
	i := sort.Search(len(c.claims), func(i int) bool { return c.claims[i].end > s.pos })
	if i < len(c.claims) && c.claims[i].pos < s.end {
		prev := c.claims[i]
		return &OverlapError{Pos: pos, Size: size, PrevPos: prev.pos, PrevSz: prev.end - prev.pos}
	}
	c.claims = slices.Insert(c.claims, i, s)
	c.claimed += size
	return nil
}
