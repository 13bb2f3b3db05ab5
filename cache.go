package easyfs

import (
	"log"
	"sync"
)

// CacheCapacity is the maximum number of blocks the BlockCache holds at
// once (spec: BLOCK_CACHE_SIZE).
const CacheCapacity = 16

// cacheEntry owns one cached block's buffer and dirty flag. Per spec.md
// §5, each entry carries its own lock so a holder of the fs lock may
// briefly acquire it without risking lock-order inversion (fs lock always
// precedes cache-entry locks).
type cacheEntry struct {
	mu    sync.Mutex
	id    uint32
	buf   [BlockSize]byte
	dirty bool
}

// BlockCache is a fixed-capacity, write-back cache of BlockSize-byte
// blocks. It is the only path through which core components touch the
// device during steady-state operation.
type BlockCache struct {
	mu      sync.Mutex
	dev     BlockDevice
	entries map[uint32]*cacheEntry
	order   []uint32 // FIFO insertion order, oldest first
}

// NewBlockCache creates a cache in front of dev.
func NewBlockCache(dev BlockDevice) *BlockCache {
	return &BlockCache{
		dev:     dev,
		entries: make(map[uint32]*cacheEntry, CacheCapacity),
	}
}

// get returns the cache entry for blockID, loading it from the device (and
// evicting the oldest entry if the cache is full) if not already present.
func (c *BlockCache) get(blockID uint32) (*cacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[blockID]; ok {
		return e, nil
	}

	if len(c.order) >= CacheCapacity {
		if err := c.evictLocked(); err != nil {
			return nil, err
		}
	}

	e := &cacheEntry{id: blockID}
	if err := c.dev.ReadBlock(blockID, e.buf[:]); err != nil {
		return nil, err
	}
	c.entries[blockID] = e
	c.order = append(c.order, blockID)
	return e, nil
}

// evictLocked drops the oldest cache entry, flushing it first if dirty.
// Caller must hold c.mu.
func (c *BlockCache) evictLocked() error {
	victimID := c.order[0]
	c.order = c.order[1:]
	victim := c.entries[victimID]
	delete(c.entries, victimID)

	victim.mu.Lock()
	defer victim.mu.Unlock()
	if victim.dirty {
		log.Printf("easyfs: evicting dirty block %d, flushing", victimID)
		if err := c.dev.WriteBlock(victimID, victim.buf[:]); err != nil {
			return err
		}
		victim.dirty = false
	}
	return nil
}

// Read hands a read-only view of the structured value at offset within
// blockID's buffer to f, via a decode callback supplied by the caller.
func (c *BlockCache) Read(blockID uint32, offset int, f func(buf []byte)) error {
	e, err := c.get(blockID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e.buf[offset:])
	return nil
}

// Modify hands a mutable view of blockID's buffer at offset to f and marks
// the entry dirty.
func (c *BlockCache) Modify(blockID uint32, offset int, f func(buf []byte)) error {
	e, err := c.get(blockID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e.buf[offset:])
	e.dirty = true
	return nil
}

// Zero clears blockID's buffer to all zero bytes and marks it dirty. A
// block not yet cached is loaded through get (one device read) before it
// is cleared. Used by
// EasyFileSystem when formatting and by dealloc_data.
func (c *BlockCache) Zero(blockID uint32) error {
	e, err := c.get(blockID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.buf {
		e.buf[i] = 0
	}
	e.dirty = true
	return nil
}

// SyncAll writes back every dirty entry without evicting it.
func (c *BlockCache) SyncAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		e := c.entries[id]
		e.mu.Lock()
		if e.dirty {
			if err := c.dev.WriteBlock(e.id, e.buf[:]); err != nil {
				e.mu.Unlock()
				return err
			}
			e.dirty = false
		}
		e.mu.Unlock()
	}
	return nil
}
