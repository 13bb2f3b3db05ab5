package easyfs

import "encoding/binary"

// bitsPerBlock is the number of allocatable bits in one BlockSize-byte
// bitmap block.
const bitsPerBlock = BlockSize * 8

// wordsPerBlock is the number of 32-bit words scanned per bitmap block.
// The spec suggests scanning 64-bit words; EasyFS scans 32-bit words
// instead since a cache entry's buffer is a plain byte slice with no
// guaranteed 8-byte alignment to reinterpret safely without unsafe. The
// allocation behavior (lowest clear bit wins, block-major/word-minor scan
// order) is unchanged.
const wordsPerBlock = BlockSize / 4

// Bitmap allocates bit positions over a contiguous run of blocks
// [startBlock, startBlock+blocks) in the backing cache.
type Bitmap struct {
	cache      *BlockCache
	startBlock uint32
	blocks     uint32
}

// NewBitmap returns a Bitmap over the given block run.
func NewBitmap(cache *BlockCache, startBlock, blocks uint32) *Bitmap {
	return &Bitmap{cache: cache, startBlock: startBlock, blocks: blocks}
}

// MaxBits is the number of bit positions this bitmap can allocate.
func (b *Bitmap) MaxBits() uint32 {
	return b.blocks * bitsPerBlock
}

// Alloc scans blocks in order, within each block scans 32-bit words, and
// within each word takes the lowest clear bit. It sets that bit and
// returns its global bit index across the run, or ErrOutOfSpace if every
// bit is set.
func (b *Bitmap) Alloc() (uint32, error) {
	for blk := uint32(0); blk < b.blocks; blk++ {
		var found int = -1
		var word uint32
		var wordIdx int

		err := b.cache.Read(b.startBlock+blk, 0, func(buf []byte) {
			for w := 0; w < wordsPerBlock; w++ {
				v := binary.LittleEndian.Uint32(buf[w*4 : w*4+4])
				if v != 0xffffffff {
					word = v
					wordIdx = w
					found = lowestClearBit(v)
					return
				}
			}
		})
		if err != nil {
			return 0, err
		}
		if found < 0 {
			continue
		}

		bitIdx := blk*bitsPerBlock + uint32(wordIdx)*32 + uint32(found)
		newWord := word | (1 << uint(found))
		err = b.cache.Modify(b.startBlock+blk, 0, func(buf []byte) {
			binary.LittleEndian.PutUint32(buf[wordIdx*4:wordIdx*4+4], newWord)
		})
		if err != nil {
			return 0, err
		}
		return bitIdx, nil
	}
	return 0, ErrOutOfSpace
}

// Dealloc clears bit. The bit must have previously been set by Alloc.
func (b *Bitmap) Dealloc(bit uint32) error {
	blk := bit / bitsPerBlock
	within := bit % bitsPerBlock
	wordIdx := within / 32
	bitInWord := within % 32

	return b.cache.Modify(b.startBlock+blk, 0, func(buf []byte) {
		v := binary.LittleEndian.Uint32(buf[wordIdx*4 : wordIdx*4+4])
		v &^= 1 << bitInWord
		binary.LittleEndian.PutUint32(buf[wordIdx*4:wordIdx*4+4], v)
	})
}

// lowestClearBit returns the index (0-31) of the lowest zero bit in v, or
// -1 if v has none (i.e. v == 0xffffffff; callers never pass that here).
func lowestClearBit(v uint32) int {
	inv := ^v
	if inv == 0 {
		return -1
	}
	// isolate lowest set bit of inv, then find its position
	low := inv & (-inv)
	pos := 0
	for low > 1 {
		low >>= 1
		pos++
	}
	return pos
}
