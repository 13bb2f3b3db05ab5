package easyfs

import "encoding/binary"

const efsMagic uint32 = 0x3b800001

const (
	inodeDirectCount   = 28
	directBound        = inodeDirectCount
	inodeIndirect1Cnt  = BlockSize / 4 // 128
	inodeIndirect2Cnt  = inodeIndirect1Cnt * inodeIndirect1Cnt
	indirect1Bound     = inodeIndirect1Cnt + directBound // 156
	nameLengthLimit    = 27
	direntSize         = 32
	diskInodeSize      = 128
	inodesPerBlock     = BlockSize / diskInodeSize // 4
	superBlockEncSize  = 4 * 6                      // magic + 5 uint32 fields
)

// InodeType distinguishes a regular file from a directory. Stored as the
// low byte of the on-disk 4-byte type field (spec.md §6); the remaining
// bytes are always zero.
type InodeType uint32

const (
	FileType      InodeType = 0
	DirectoryType InodeType = 1
)

// SuperBlock is the first block of an EasyFS image, describing the region
// layout that follows it.
type SuperBlock struct {
	magic           uint32
	TotalBlocks     uint32
	InodeBitmapBlks uint32
	InodeAreaBlks   uint32
	DataBitmapBlks  uint32
	DataAreaBlks    uint32
}

func newSuperBlock(totalBlocks, inodeBitmapBlks, inodeAreaBlks, dataBitmapBlks, dataAreaBlks uint32) SuperBlock {
	return SuperBlock{
		magic:           efsMagic,
		TotalBlocks:     totalBlocks,
		InodeBitmapBlks: inodeBitmapBlks,
		InodeAreaBlks:   inodeAreaBlks,
		DataBitmapBlks:  dataBitmapBlks,
		DataAreaBlks:    dataAreaBlks,
	}
}

// IsValid reports whether the magic sentinel matches.
func (s *SuperBlock) IsValid() bool {
	return s.magic == efsMagic
}

// MarshalBinary encodes the superblock's fields in spec order, little-endian.
func (s *SuperBlock) MarshalBinary(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], s.InodeBitmapBlks)
	binary.LittleEndian.PutUint32(buf[12:16], s.InodeAreaBlks)
	binary.LittleEndian.PutUint32(buf[16:20], s.DataBitmapBlks)
	binary.LittleEndian.PutUint32(buf[20:24], s.DataAreaBlks)
}

// UnmarshalBinary decodes a superblock from buf (must be >= superBlockEncSize bytes).
func (s *SuperBlock) UnmarshalBinary(buf []byte) {
	s.magic = binary.LittleEndian.Uint32(buf[0:4])
	s.TotalBlocks = binary.LittleEndian.Uint32(buf[4:8])
	s.InodeBitmapBlks = binary.LittleEndian.Uint32(buf[8:12])
	s.InodeAreaBlks = binary.LittleEndian.Uint32(buf[12:16])
	s.DataBitmapBlks = binary.LittleEndian.Uint32(buf[16:20])
	s.DataAreaBlks = binary.LittleEndian.Uint32(buf[20:24])
}

// DiskInode is the fixed 128-byte on-disk index node: 28 direct pointers,
// one single-indirect and one double-indirect block, plus size/parent/type.
type DiskInode struct {
	Size      uint32
	Direct    [inodeDirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Parent    uint32
	Type      InodeType
}

// initDiskInode resets d to an empty inode of the given type with no parent set.
func initDiskInode(d *DiskInode, t InodeType) {
	*d = DiskInode{Type: t}
}

func (d *DiskInode) IsDir() bool  { return d.Type == DirectoryType }
func (d *DiskInode) IsFile() bool { return d.Type == FileType }

// MarshalBinary encodes d into a 128-byte buffer.
func (d *DiskInode) MarshalBinary(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Size)
	for i, v := range d.Direct {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], v)
	}
	o := 4 + inodeDirectCount*4
	binary.LittleEndian.PutUint32(buf[o:o+4], d.Indirect1)
	binary.LittleEndian.PutUint32(buf[o+4:o+8], d.Indirect2)
	binary.LittleEndian.PutUint32(buf[o+8:o+12], d.Parent)
	binary.LittleEndian.PutUint32(buf[o+12:o+16], uint32(d.Type))
}

// UnmarshalBinary decodes d from a 128-byte buffer.
func (d *DiskInode) UnmarshalBinary(buf []byte) {
	d.Size = binary.LittleEndian.Uint32(buf[0:4])
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[4+i*4 : 8+i*4])
	}
	o := 4 + inodeDirectCount*4
	d.Indirect1 = binary.LittleEndian.Uint32(buf[o : o+4])
	d.Indirect2 = binary.LittleEndian.Uint32(buf[o+4 : o+8])
	d.Parent = binary.LittleEndian.Uint32(buf[o+8 : o+12])
	d.Type = InodeType(binary.LittleEndian.Uint32(buf[o+12 : o+16]))
}

// readIndirect reads a 128-entry (512-byte) indirect block from the cache.
func readIndirect(cache *BlockCache, blockID uint32) ([inodeIndirect1Cnt]uint32, error) {
	var out [inodeIndirect1Cnt]uint32
	err := cache.Read(blockID, 0, func(buf []byte) {
		for i := 0; i < inodeIndirect1Cnt; i++ {
			out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		}
	})
	return out, err
}

func writeIndirectEntry(cache *BlockCache, blockID uint32, idx int, val uint32) error {
	return cache.Modify(blockID, 0, func(buf []byte) {
		binary.LittleEndian.PutUint32(buf[idx*4:idx*4+4], val)
	})
}

func readIndirectEntry(cache *BlockCache, blockID uint32, idx int) (uint32, error) {
	var v uint32
	err := cache.Read(blockID, 0, func(buf []byte) {
		v = binary.LittleEndian.Uint32(buf[idx*4 : idx*4+4])
	})
	return v, err
}

// GetBlockID returns the absolute block ID of the inner-th data block.
func (d *DiskInode) GetBlockID(inner uint32, cache *BlockCache) (uint32, error) {
	if inner < inodeDirectCount {
		return d.Direct[inner], nil
	}
	if inner < indirect1Bound {
		return readIndirectEntry(cache, d.Indirect1, int(inner-inodeDirectCount))
	}
	last := inner - indirect1Bound
	indirect1, err := readIndirectEntry(cache, d.Indirect2, int(last/inodeIndirect1Cnt))
	if err != nil {
		return 0, err
	}
	return readIndirectEntry(cache, indirect1, int(last%inodeIndirect1Cnt))
}

// DataBlocks is ceil(size / BlockSize).
func (d *DiskInode) DataBlocks() uint32 {
	return diskInodeDataBlocks(d.Size)
}

func diskInodeDataBlocks(size uint32) uint32 {
	return (size + BlockSize - 1) / BlockSize
}

// DiskInodeTotalBlocks counts data blocks plus indirect-block overhead
// needed to index a file of the given size.
func DiskInodeTotalBlocks(size uint32) uint32 {
	dataBlocks := diskInodeDataBlocks(size)
	total := dataBlocks
	if dataBlocks > inodeDirectCount {
		total++
	}
	if dataBlocks > uint32(indirect1Bound) {
		total++
		total += (dataBlocks - indirect1Bound + inodeIndirect1Cnt - 1) / inodeIndirect1Cnt
	}
	return total
}

// BlocksNumNeeded is the number of additional blocks a grow to newSize
// requires. newSize must be >= d.Size.
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint32 {
	return DiskInodeTotalBlocks(newSize) - DiskInodeTotalBlocks(d.Size)
}

// IncreaseSize grows d to newSize, consuming exactly BlocksNumNeeded(newSize)
// freshly allocated absolute block IDs from newBlocks to fill in direct,
// indirect1, and indirect2 slots as needed.
func (d *DiskInode) IncreaseSize(newSize uint32, newBlocks []uint32, cache *BlockCache) error {
	next := 0
	pop := func() uint32 { v := newBlocks[next]; next++; return v }

	currentBlocks := d.DataBlocks()
	d.Size = newSize
	totalBlocks := d.DataBlocks()

	for currentBlocks < min32(totalBlocks, inodeDirectCount) {
		d.Direct[currentBlocks] = pop()
		currentBlocks++
	}
	if totalBlocks <= inodeDirectCount {
		return nil
	}
	if currentBlocks == inodeDirectCount {
		d.Indirect1 = pop()
	}
	currentBlocks -= inodeDirectCount
	totalBlocks -= inodeDirectCount

	err := cache.Modify(d.Indirect1, 0, func(buf []byte) {
		for currentBlocks < min32(totalBlocks, inodeIndirect1Cnt) {
			binary.LittleEndian.PutUint32(buf[currentBlocks*4:currentBlocks*4+4], pop())
			currentBlocks++
		}
	})
	if err != nil {
		return err
	}
	if totalBlocks <= inodeIndirect1Cnt {
		return nil
	}
	if currentBlocks == inodeIndirect1Cnt {
		d.Indirect2 = pop()
	}
	currentBlocks -= inodeIndirect1Cnt
	totalBlocks -= inodeIndirect1Cnt

	a0 := currentBlocks / inodeIndirect1Cnt
	b0 := currentBlocks % inodeIndirect1Cnt
	a1 := totalBlocks / inodeIndirect1Cnt
	b1 := totalBlocks % inodeIndirect1Cnt

	for (a0 < a1) || (a0 == a1 && b0 < b1) {
		if b0 == 0 {
			if err := writeIndirectEntry(cache, d.Indirect2, int(a0), pop()); err != nil {
				return err
			}
		}
		l2, err := readIndirectEntry(cache, d.Indirect2, int(a0))
		if err != nil {
			return err
		}
		if err := writeIndirectEntry(cache, l2, int(b0), pop()); err != nil {
			return err
		}
		b0++
		if b0 == inodeIndirect1Cnt {
			b0 = 0
			a0++
		}
	}
	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ClearSize truncates d to size 0, returning every now-orphaned absolute
// block ID (data blocks plus indirect blocks). Equivalent to DecreaseSize(0).
func (d *DiskInode) ClearSize(cache *BlockCache) ([]uint32, error) {
	return d.DecreaseSize(0, cache)
}

// DecreaseSize shrinks d to newSize (a no-op if newSize >= d.Size),
// returning every now-orphaned absolute block ID and zeroing the freed
// index slots.
func (d *DiskInode) DecreaseSize(newSize uint32, cache *BlockCache) ([]uint32, error) {
	oldBlocks := d.DataBlocks()
	if newSize >= d.Size {
		return nil, nil
	}
	d.Size = newSize
	newBlocks := d.DataBlocks()

	var freed []uint32
	current := newBlocks
	total := oldBlocks

	for current < min32(total, inodeDirectCount) {
		freed = append(freed, d.Direct[current])
		d.Direct[current] = 0
		current++
	}

	if total <= inodeDirectCount {
		return freed, nil
	}
	if current != inodeDirectCount {
		return freed, nil
	}
	if newBlocks <= inodeDirectCount {
		freed = append(freed, d.Indirect1)
		err := cache.Modify(d.Indirect1, 0, func(buf []byte) {
			for i := uint32(0); i < total-inodeDirectCount; i++ {
				freed = append(freed, binary.LittleEndian.Uint32(buf[i*4:i*4+4]))
			}
		})
		d.Indirect1 = 0
		return freed, err
	}
	current = 0
	total -= inodeDirectCount

	err := cache.Modify(d.Indirect1, 0, func(buf []byte) {
		for current < min32(total, inodeIndirect1Cnt) {
			freed = append(freed, binary.LittleEndian.Uint32(buf[current*4:current*4+4]))
			binary.LittleEndian.PutUint32(buf[current*4:current*4+4], 0)
			current++
		}
	})
	if err != nil {
		return freed, err
	}

	if total <= inodeIndirect1Cnt {
		return freed, nil
	}
	if current != inodeIndirect1Cnt {
		return freed, nil
	}
	// The indirect2 cases below never hold one block's cache-entry lock
	// while touching another: each index block is read or written with its
	// own top-level cache.Read/cache.Modify call, never nested inside a
	// callback for a different block. A version that nested entry reads
	// inside the indirect2 Modify callback self-deadlocked once eviction
	// cycled back around to the still-locked indirect2 entry.
	if newBlocks <= inodeDirectCount+inodeIndirect1Cnt {
		freed = append(freed, d.Indirect2)
		a1 := total / inodeIndirect1Cnt
		b1 := total % inodeIndirect1Cnt

		l2, err := readIndirect(cache, d.Indirect2)
		if err != nil {
			d.Indirect2 = 0
			return freed, err
		}
		for i := uint32(0); i < a1; i++ {
			entry := l2[i]
			freed = append(freed, entry)
			l1, err := readIndirect(cache, entry)
			if err != nil {
				d.Indirect2 = 0
				return freed, err
			}
			freed = append(freed, l1[:]...)
		}
		if b1 > 0 {
			entry := l2[a1]
			freed = append(freed, entry)
			l1, err := readIndirect(cache, entry)
			if err != nil {
				d.Indirect2 = 0
				return freed, err
			}
			freed = append(freed, l1[:b1]...)
		}
		d.Indirect2 = 0
		return freed, nil
	}
	current = 0
	total -= inodeIndirect1Cnt

	a0 := current / inodeIndirect1Cnt
	b0 := current % inodeIndirect1Cnt
	a1 := total / inodeIndirect1Cnt
	b1 := total % inodeIndirect1Cnt

	l2, err := readIndirect(cache, d.Indirect2)
	if err != nil {
		return freed, err
	}
	l2Dirty := false

	if a0 < a1 {
		for i := a0 + 1; i < a1; i++ {
			entry := l2[i]
			freed = append(freed, entry)
			l1, err := readIndirect(cache, entry)
			if err != nil {
				return freed, err
			}
			freed = append(freed, l1[:]...)
			l2[i] = 0
			l2Dirty = true
		}
		if b0 > 0 {
			entry := l2[a0]
			freed = append(freed, entry)
			l1, err := readIndirect(cache, entry)
			if err != nil {
				return freed, err
			}
			freed = append(freed, l1[b0:]...)
			l2[a0] = 0
			l2Dirty = true
		}
		if b1 > 0 {
			entry := l2[a1]
			freed = append(freed, entry)
			l1, err := readIndirect(cache, entry)
			if err != nil {
				return freed, err
			}
			freed = append(freed, l1[b1:]...)
			l2[a1] = 0
			l2Dirty = true
		}
	} else if b0 < b1 {
		entry := l2[a0]
		l1, err := readIndirect(cache, entry)
		if err != nil {
			return freed, err
		}
		freed = append(freed, l1[b0:b1]...)
		if err := cache.Modify(entry, 0, func(buf []byte) {
			for j := b0; j < b1; j++ {
				binary.LittleEndian.PutUint32(buf[j*4:j*4+4], 0)
			}
		}); err != nil {
			return freed, err
		}
	}

	if l2Dirty {
		if err := cache.Modify(d.Indirect2, 0, func(buf []byte) {
			for i, v := range l2 {
				binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
			}
		}); err != nil {
			return freed, err
		}
	}

	return freed, nil
}

// ReadAt reads into buf starting at byte offset, clipped by d.Size. Reads
// beyond Size return 0 bytes read.
func (d *DiskInode) ReadAt(offset int, buf []byte, cache *BlockCache) (int, error) {
	start := offset
	end := offset + len(buf)
	if end > int(d.Size) {
		end = int(d.Size)
	}
	if start >= end {
		return 0, nil
	}
	startBlock := start / BlockSize
	read := 0
	for {
		endCur := (start/BlockSize + 1) * BlockSize
		if endCur > end {
			endCur = end
		}
		blockReadSize := endCur - start
		blockID, err := d.GetBlockID(uint32(startBlock), cache)
		if err != nil {
			return read, err
		}
		err = cache.Read(blockID, 0, func(data []byte) {
			copy(buf[read:read+blockReadSize], data[start%BlockSize:start%BlockSize+blockReadSize])
		})
		if err != nil {
			return read, err
		}
		read += blockReadSize
		if endCur >= end {
			break
		}
		startBlock++
		start = endCur
	}
	return read, nil
}

// WriteAt writes buf starting at byte offset, clipped by d.Size. The
// caller must have grown d.Size beforehand via IncreaseSize if the write
// extends past the current size.
func (d *DiskInode) WriteAt(offset int, buf []byte, cache *BlockCache) (int, error) {
	start := offset
	end := offset + len(buf)
	if end > int(d.Size) {
		end = int(d.Size)
	}
	if start > end {
		start = end
	}
	startBlock := start / BlockSize
	written := 0
	for start < end {
		endCur := (start/BlockSize + 1) * BlockSize
		if endCur > end {
			endCur = end
		}
		blockWriteSize := endCur - start
		blockID, err := d.GetBlockID(uint32(startBlock), cache)
		if err != nil {
			return written, err
		}
		err = cache.Modify(blockID, 0, func(data []byte) {
			copy(data[start%BlockSize:start%BlockSize+blockWriteSize], buf[written:written+blockWriteSize])
		})
		if err != nil {
			return written, err
		}
		written += blockWriteSize
		if endCur >= end {
			break
		}
		startBlock++
		start = endCur
	}
	return written, nil
}

// DirEntry is a 32-byte record binding a child name to an inode number.
type DirEntry struct {
	name        [nameLengthLimit + 1]byte
	InodeNumber uint32
}

// NewDirEntry builds a DirEntry for name (must be <= nameLengthLimit bytes;
// callers validate via ValidateName before calling this).
func NewDirEntry(name string, inodeNumber uint32) DirEntry {
	var e DirEntry
	copy(e.name[:], name)
	e.InodeNumber = inodeNumber
	return e
}

// Name returns the entry's NUL-terminated name as a string.
func (e *DirEntry) Name() string {
	for i, b := range e.name {
		if b == 0 {
			return string(e.name[:i])
		}
	}
	return string(e.name[:])
}

// MarshalBinary encodes e into a 32-byte buffer.
func (e *DirEntry) MarshalBinary(buf []byte) {
	copy(buf[0:nameLengthLimit+1], e.name[:])
	binary.LittleEndian.PutUint32(buf[nameLengthLimit+1:direntSize], e.InodeNumber)
}

// UnmarshalBinary decodes e from a 32-byte buffer.
func (e *DirEntry) UnmarshalBinary(buf []byte) {
	copy(e.name[:], buf[0:nameLengthLimit+1])
	e.InodeNumber = binary.LittleEndian.Uint32(buf[nameLengthLimit+1 : direntSize])
}

// ValidateName rejects names that are empty, ".", "..", or too long to
// store in a DirEntry.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if len(name) > nameLengthLimit {
		return ErrInvalidName
	}
	return nil
}
