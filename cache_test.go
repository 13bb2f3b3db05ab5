package easyfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCache_ReadWriteRoundTrip(t *testing.T) {
	dev := NewMemBlockDevice(4)
	cache := NewBlockCache(dev)

	require.NoError(t, cache.Modify(2, 0, func(buf []byte) {
		copy(buf, []byte("hello"))
	}))

	var got [5]byte
	require.NoError(t, cache.Read(2, 0, func(buf []byte) {
		copy(got[:], buf)
	}))
	assert.Equal(t, "hello", string(got[:]))
}

func TestBlockCache_EvictsOldestAndFlushesDirty(t *testing.T) {
	dev := NewMemBlockDevice(CacheCapacity + 2)
	cache := NewBlockCache(dev)

	require.NoError(t, cache.Modify(0, 0, func(buf []byte) {
		buf[0] = 0xAB
	}))

	// Touch CacheCapacity more distinct blocks so block 0 is evicted.
	for i := uint32(1); i <= CacheCapacity; i++ {
		require.NoError(t, cache.Read(i, 0, func(buf []byte) {}))
	}

	assert.NotContains(t, cache.order, uint32(0))

	var raw [BlockSize]byte
	require.NoError(t, dev.ReadBlock(0, raw[:]))
	assert.Equal(t, byte(0xAB), raw[0], "dirty block must be flushed to the device before eviction")
}

func TestBlockCache_SyncAllWritesBackWithoutEvicting(t *testing.T) {
	dev := NewMemBlockDevice(2)
	cache := NewBlockCache(dev)

	require.NoError(t, cache.Modify(1, 0, func(buf []byte) { buf[0] = 0x42 }))
	require.NoError(t, cache.SyncAll())

	var raw [BlockSize]byte
	require.NoError(t, dev.ReadBlock(1, raw[:]))
	assert.Equal(t, byte(0x42), raw[0])
	assert.Contains(t, cache.order, uint32(1), "SyncAll must not evict")
}

func TestBlockCache_Zero(t *testing.T) {
	dev := NewMemBlockDevice(1)
	cache := NewBlockCache(dev)
	require.NoError(t, cache.Modify(0, 0, func(buf []byte) { buf[0] = 0xFF }))
	require.NoError(t, cache.Zero(0))
	require.NoError(t, cache.Read(0, 0, func(buf []byte) {
		assert.Equal(t, byte(0), buf[0])
	}))
}
