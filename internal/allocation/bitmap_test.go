package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBitmap_SetGet_Success tests bit manipulation and LSB-first packing.
func TestBitmap_SetGet_Success(t *testing.T) {
	t.Parallel()

	b := NewBitmap(20, 0)
	require.Len(t, b.Bytes(), 3)

	require.NoError(t, b.Set(0, true))
	require.NoError(t, b.Set(9, true))

	assert.Equal(t, byte(0x01), b.Bytes()[0])
	assert.Equal(t, byte(0x02), b.Bytes()[1])

	set, err := b.Get(9)
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, b.Set(9, false))

	set, err = b.Get(9)
	require.NoError(t, err)
	assert.False(t, set)
}

// TestBitmap_Fail_Range tests out of range accesses.
func TestBitmap_Fail_Range(t *testing.T) {
	t.Parallel()

	b := NewBitmap(10, 0)

	_, err := b.Get(10)
	require.ErrorIs(t, err, ErrBitmapRange)

	err = b.Set(10, true)
	require.ErrorIs(t, err, ErrBitmapRange)
}

// TestBitmap_FirstClear tests first-fit search including the partial tail
// byte.
func TestBitmap_FirstClear(t *testing.T) {
	t.Parallel()

	b := NewBitmap(11, 0)

	for i := range uint32(10) {
		idx, ok := b.FirstClear()
		require.True(t, ok)
		require.Equal(t, i, idx)
		require.NoError(t, b.Set(idx, true))
	}

	idx, ok := b.FirstClear()
	require.True(t, ok)
	assert.Equal(t, uint32(10), idx)

	require.NoError(t, b.Set(10, true))

	_, ok = b.FirstClear()
	assert.False(t, ok)
	assert.Equal(t, uint32(11), b.Count())

	require.NoError(t, b.Set(3, false))

	idx, ok = b.FirstClear()
	require.True(t, ok)
	assert.Equal(t, uint32(3), idx)
}

// TestBitmap_Count_IgnoresPadding tests that bits beyond the tracked length
// are not counted.
func TestBitmap_Count_IgnoresPadding(t *testing.T) {
	t.Parallel()

	b, err := LoadBitmap([]byte{0xFF, 0xFF}, 12)
	require.NoError(t, err)

	assert.Equal(t, uint32(12), b.Count())

	_, ok := b.FirstClear()
	assert.False(t, ok)
}

// TestLoadBitmap_Fail_Length tests that short backing data is rejected.
func TestLoadBitmap_Fail_Length(t *testing.T) {
	t.Parallel()

	_, err := LoadBitmap([]byte{0}, 9)
	require.ErrorIs(t, err, ErrBitmapLength)
}
