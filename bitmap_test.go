package easyfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_AllocIsLowestClearBit(t *testing.T) {
	dev := NewMemBlockDevice(4)
	cache := NewBlockCache(dev)
	require.NoError(t, cache.Zero(0))
	bm := NewBitmap(cache, 0, 1)

	first, err := bm.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first)

	second, err := bm.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second)

	require.NoError(t, bm.Dealloc(first))

	third, err := bm.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), third, "dealloc'd bit 0 must be the next allocation")
}

func TestBitmap_ExhaustsAndReturnsOutOfSpace(t *testing.T) {
	dev := NewMemBlockDevice(1)
	cache := NewBlockCache(dev)
	require.NoError(t, cache.Zero(0))
	bm := NewBitmap(cache, 0, 1)

	max := bm.MaxBits()
	for i := uint32(0); i < max; i++ {
		_, err := bm.Alloc()
		require.NoErrorf(t, err, "allocation %d of %d should succeed", i, max)
	}

	_, err := bm.Alloc()
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestBitmap_ScansAcrossMultipleBlocks(t *testing.T) {
	dev := NewMemBlockDevice(3)
	cache := NewBlockCache(dev)
	for b := uint32(0); b < 2; b++ {
		require.NoError(t, cache.Zero(b))
	}
	bm := NewBitmap(cache, 0, 2)

	// Fill the first block entirely; the next alloc must land in block 1.
	for i := uint32(0); i < bitsPerBlock; i++ {
		_, err := bm.Alloc()
		require.NoError(t, err)
	}
	next, err := bm.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint32(bitsPerBlock), next)
}

func TestLowestClearBit(t *testing.T) {
	cases := []struct {
		v    uint32
		want int
	}{
		{0x00000000, 0},
		{0x00000001, 1},
		{0x00000003, 2},
		{0xfffffffe, 0},
		{0xffffffff, -1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, lowestClearBit(c.v))
	}
}
