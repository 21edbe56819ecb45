package validation

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRange(t *testing.T) {
	t.Parallel()

	c := NewContext(make([]byte, 32))
	tests := []struct {
		name            string
		pos, size, algn int
		want            error
	}{
		{"Whole", 0, 32, 8, nil},
		{"Empty at end", 32, 0, 1, nil},
		{"Past end", 30, 4, 1, ErrOutOfBounds},
		{"Negative", -1, 2, 1, ErrOutOfBounds},
		{"Huge size", 1, math.MaxInt, 1, ErrOutOfBounds},
		{"Unaligned", 6, 4, 4, ErrUnaligned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CheckRange(tt.pos, tt.size, tt.algn)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckRelPtr(t *testing.T) {
	t.Parallel()

	c := NewContext(make([]byte, 64))

	got, err := c.CheckRelPtr(16, 8)
	require.NoError(t, err)
	assert.Equal(t, 24, got)

	got, err = c.CheckRelPtr(16, -16)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = c.CheckRelPtr(60, 4)
	require.NoError(t, err)
	assert.Equal(t, 64, got, "one past the end is a valid empty target")

	bad := []struct {
		base int
		off  int64
	}{
		{60, 5},
		{16, -17},
		{1, math.MaxInt64},
		{1, math.MinInt64},
		{65, 0},
	}
	for _, tt := range bad {
		_, err = c.CheckRelPtr(tt.base, tt.off)
		assert.ErrorIs(t, err, ErrOutOfBounds, "base %d offset %d", tt.base, tt.off)
	}
}

func TestClaimBytes(t *testing.T) {
	t.Parallel()

	c := NewContext(make([]byte, 64))
	require.NoError(t, c.ClaimBytes(8, 8))
	require.NoError(t, c.ClaimBytes(32, 4))
	require.NoError(t, c.ClaimBytes(16, 16), "adjacent claims do not overlap")
	require.NoError(t, c.ClaimBytes(0, 8))
	assert.Equal(t, 36, c.Claimed())

	t.Run("Overlap", func(t *testing.T) {
		err := c.ClaimBytes(30, 4)
		var oe *OverlapError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, 16, oe.PrevPos)
		assert.ErrorIs(t, err, ErrOverlap)
		assert.Equal(t, 36, c.Claimed(), "failed claim must not change the record")
	})

	t.Run("Contained", func(t *testing.T) {
		assert.ErrorIs(t, c.ClaimBytes(33, 1), ErrOverlap)
	})

	t.Run("Enclosing", func(t *testing.T) {
		assert.ErrorIs(t, c.ClaimBytes(31, 10), ErrOverlap)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.NoError(t, c.ClaimBytes(10, 0))
		assert.NoError(t, c.ClaimBytes(10, 0))
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		assert.ErrorIs(t, c.ClaimBytes(60, 8), ErrOutOfBounds)
	})

	require.NoError(t, c.ClaimBytes(36, 28))
	assert.Equal(t, 64, c.Claimed())
}

func TestOwnedPointerError(t *testing.T) {
	t.Parallel()

	leaf := &BoundsError{Pos: 100, Size: 4, Len: 32}
	err := Wrap("String", 8, ContextLayer, leaf)

	var ope *OwnedPointerError
	require.True(t, errors.As(err, &ope))
	assert.Equal(t, ContextLayer, ope.Layer)
	assert.Equal(t, "String", ope.Container)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Contains(t, err.Error(), "context check failed")

	assert.NoError(t, Wrap("Vec", 0, ValueLayer, nil))
}

func TestInnermost(t *testing.T) {
	t.Parallel()

	leaf := &InvalidUTF8Error{Pos: 40}
	err := Wrap("Vec", 0, ValueLayer, Wrap("String", 24, ValueLayer, leaf))
	err = fmt.Errorf("failed to open snap: %w", err)

	owned, ok := Innermost(err)
	require.True(t, ok)
	assert.Equal(t, "String", owned.Container)
	assert.Equal(t, 24, owned.Pos)
	assert.Equal(t, leaf, owned.Err)

	_, ok = Innermost(errors.New("plain"))
	assert.False(t, ok)
}
