package rel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos, align, want int
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 4, 12},
		{5, 1, 5},
		{5, 0, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.pos, tt.align), "AlignUp(%d, %d)", tt.pos, tt.align)
	}
}

func TestRelPtrTarget(t *testing.T) {
	t.Parallel()

	t.Run("Forward", func(t *testing.T) {
		p := New(16, 40, 0)
		assert.Equal(t, Offset(24), p.Offset)
		assert.Equal(t, 40, p.Target(16))
	})

	t.Run("Backward", func(t *testing.T) {
		p := New(40, 16, 3)
		assert.Equal(t, Offset(-24), p.Offset)
		assert.Equal(t, 16, p.Target(40))
		assert.Equal(t, Augment(3), p.Augment)
	})

	t.Run("Self", func(t *testing.T) {
		p := New(12, 12, 0)
		assert.Equal(t, Offset(0), p.Offset)
		assert.Equal(t, 12, p.Target(12))
	})
}

func TestRelPtrPositionIndependence(t *testing.T) {
	t.Parallel()

	// The same relative layout placed at different bases must encode
	// identically.
	a := make([]byte, Size(Str))
	b := make([]byte, Size(Str))
	New(8, 0, 11).Put(a, Str)
	New(1032, 1024, 11).Put(b, Str)
	assert.Equal(t, a, b)
}

func TestPutLoad(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{Sized, Slice, Str} {
		t.Run(k.String(), func(t *testing.T) {
			buf := make([]byte, 64)
			p := New(32, 4, 7)
			p.Put(buf[32:], k)

			got := Load(buf[32:], k)
			assert.Equal(t, p.Offset, got.Offset)
			if k.HasAugment() {
				assert.Equal(t, Augment(7), got.Augment)
			} else {
				assert.Zero(t, got.Augment)
			}

			pos, aug := Resolve(buf, 32, Pointee{Kind: k})
			assert.Equal(t, 4, pos)
			assert.Equal(t, got.Augment, aug)
		})
	}
}

func TestEncodingIsLittleEndian(t *testing.T) {
	t.Parallel()

	buf := make([]byte, Size(Slice))
	New(0, 1, 2).Put(buf, Slice)
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(2), buf[OffsetSize])
	for i := 1; i < OffsetSize; i++ {
		assert.Zero(t, buf[i])
		assert.Zero(t, buf[OffsetSize+i])
	}
}

func TestNewOverflowPanics(t *testing.T) {
	t.Parallel()

	if MaxOffset == math.MaxInt64 {
		t.Skip("every int delta fits a wide offset")
	}
	assert.PanicsWithError(t, ErrOffsetOverflow.Error()+": 0 -> 2147483648", func() {
		New(0, int(MaxOffset)+1, 0)
	})
	assert.NotPanics(t, func() {
		New(0, int(MaxOffset), 0)
	})
	assert.NotPanics(t, func() {
		New(int(-MinOffset), 0, 0)
	})
}

func TestPointeeLayout(t *testing.T) {
	t.Parallel()

	t.Run("Sized", func(t *testing.T) {
		p := SizedPointee(Layout{Size: 12, Align: 4})
		l, ok := p.Layout(99)
		require.True(t, ok)
		assert.Equal(t, Layout{Size: 12, Align: 4}, l)
		assert.False(t, p.Kind.HasAugment())
	})

	t.Run("Slice", func(t *testing.T) {
		p := SlicePointee(Layout{Size: 4, Align: 4})
		l, ok := p.Layout(5)
		require.True(t, ok)
		assert.Equal(t, Layout{Size: 20, Align: 4}, l)
		assert.Equal(t, 0, p.ElemOffset())
	})

	t.Run("Block", func(t *testing.T) {
		p := BlockPointee(Layout{Size: 2, Align: 2}, Layout{Size: 8, Align: 8})
		assert.Equal(t, 8, p.ElemOffset())
		l, ok := p.Layout(3)
		require.True(t, ok)
		assert.Equal(t, Layout{Size: 32, Align: 8}, l)
	})

	t.Run("Str", func(t *testing.T) {
		l, ok := StrPointee().Layout(11)
		require.True(t, ok)
		assert.Equal(t, Layout{Size: 11, Align: 1}, l)
	})

	t.Run("Overflow", func(t *testing.T) {
		p := SlicePointee(Layout{Size: 1 << 40, Align: 8})
		_, ok := p.Layout(1 << 30)
		assert.False(t, ok)

		_, ok = StrPointee().Layout(Augment(MaxLen) + 1)
		assert.False(t, ok)
	})
}

func TestFootprint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Layout{Size: OffsetSize, Align: OffsetSize}, Footprint(Sized))
	assert.Equal(t, Layout{Size: 2 * OffsetSize, Align: OffsetSize}, Footprint(Str))
	assert.Contains(t, []string{"compact", "wide"}, Width)
}
