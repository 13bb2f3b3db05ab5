package easyfs

import (
	"log"
	"sync"
)

// EasyFileSystem ties the two bitmaps and the inode/data regions together.
// It owns the coarse filesystem lock: every Vfs operation that allocates,
// deallocates, or touches directory entries acquires it first (spec.md §5).
type EasyFileSystem struct {
	mu sync.Mutex

	Cache *BlockCache

	InodeBitmap *Bitmap
	DataBitmap  *Bitmap

	inodeAreaStart uint32
	dataAreaStart  uint32
	totalBlocks    uint32
}

// layout computes the creation-time region sizes for totalBlocks blocks
// with the given inode-bitmap size, per spec.md §6.
func layout(totalBlocks, inodeBitmapBlocks uint32) (inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks uint32) {
	inodeBits := inodeBitmapBlocks * bitsPerBlock
	inodeAreaBlocks = (inodeBits + inodesPerBlock - 1) / inodesPerBlock
	remaining := totalBlocks - 1 - inodeBitmapBlocks - inodeAreaBlocks
	dataBitmapBlocks = (remaining + bitsPerBlock + 1 - 1) / (bitsPerBlock + 1)
	dataAreaBlocks = remaining - dataBitmapBlocks
	return
}

// Create formats a fresh image on dev: total_blocks blocks with an inode
// bitmap of inode_bitmap_blocks blocks. It zeroes every block, writes the
// superblock, and allocates inode 0 as an empty root directory whose
// parent is itself.
func Create(dev BlockDevice, totalBlocks, inodeBitmapBlocks uint32) (*EasyFileSystem, error) {
	inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks := layout(totalBlocks, inodeBitmapBlocks)
	if 1+inodeBitmapBlocks+inodeAreaBlocks+dataBitmapBlocks+dataAreaBlocks > totalBlocks {
		return nil, corrupt("layout for %d blocks does not fit (inode_bitmap=%d)", totalBlocks, inodeBitmapBlocks)
	}

	cache := NewBlockCache(dev)
	log.Printf("easyfs: formatting image: total=%d inode_bitmap=%d inode_area=%d data_bitmap=%d data_area=%d",
		totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks)

	for b := uint32(0); b < totalBlocks; b++ {
		if err := cache.Zero(b); err != nil {
			return nil, err
		}
	}

	fs := &EasyFileSystem{
		Cache:          cache,
		InodeBitmap:    NewBitmap(cache, 1, inodeBitmapBlocks),
		DataBitmap:     NewBitmap(cache, 1+inodeBitmapBlocks+inodeAreaBlocks, dataBitmapBlocks),
		inodeAreaStart: 1 + inodeBitmapBlocks,
		dataAreaStart:  1 + inodeBitmapBlocks + inodeAreaBlocks + dataBitmapBlocks,
		totalBlocks:    totalBlocks,
	}

	sb := newSuperBlock(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks)
	if err := cache.Modify(0, 0, func(buf []byte) { sb.MarshalBinary(buf) }); err != nil {
		return nil, err
	}

	rootID, err := fs.AllocInode()
	if err != nil {
		return nil, err
	}
	if rootID != 0 {
		return nil, corrupt("root inode allocation returned %d, expected 0", rootID)
	}
	blockID, offset := fs.GetDiskInodePos(rootID)
	err = cache.Modify(blockID, offset, func(buf []byte) {
		var root DiskInode
		initDiskInode(&root, DirectoryType)
		root.MarshalBinary(buf)
	})
	if err != nil {
		return nil, err
	}

	if err := cache.SyncAll(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Open validates the superblock's magic and rebuilds the in-memory
// descriptor for an already-formatted image.
func Open(dev BlockDevice) (*EasyFileSystem, error) {
	cache := NewBlockCache(dev)
	var sb SuperBlock
	err := cache.Read(0, 0, func(buf []byte) { sb.UnmarshalBinary(buf) })
	if err != nil {
		return nil, err
	}
	if !sb.IsValid() {
		return nil, corrupt("superblock magic mismatch")
	}
	if 1+sb.InodeBitmapBlks+sb.InodeAreaBlks+sb.DataBitmapBlks+sb.DataAreaBlks > sb.TotalBlocks {
		return nil, corrupt("region layout exceeds total_blocks=%d", sb.TotalBlocks)
	}

	log.Printf("easyfs: opened image: total=%d inode_area=%d data_area=%d", sb.TotalBlocks, sb.InodeAreaBlks, sb.DataAreaBlks)

	return &EasyFileSystem{
		Cache:          cache,
		InodeBitmap:    NewBitmap(cache, 1, sb.InodeBitmapBlks),
		DataBitmap:     NewBitmap(cache, 1+sb.InodeBitmapBlks+sb.InodeAreaBlks, sb.DataBitmapBlks),
		inodeAreaStart: 1 + sb.InodeBitmapBlks,
		dataAreaStart:  1 + sb.InodeBitmapBlks + sb.InodeAreaBlks + sb.DataBitmapBlks,
		totalBlocks:    sb.TotalBlocks,
	}, nil
}

// AllocInode reserves an inode number in the inode bitmap.
func (fs *EasyFileSystem) AllocInode() (uint32, error) {
	return fs.InodeBitmap.Alloc()
}

// DeallocInode releases an inode number back to the inode bitmap.
func (fs *EasyFileSystem) DeallocInode(id uint32) error {
	return fs.InodeBitmap.Dealloc(id)
}

// AllocData reserves a data block and returns its absolute block ID.
func (fs *EasyFileSystem) AllocData() (uint32, error) {
	bit, err := fs.DataBitmap.Alloc()
	if err != nil {
		return 0, err
	}
	// The data bitmap has more bits than the data area has blocks; a bit
	// past the end of the image is not a usable block.
	if fs.dataAreaStart+bit >= fs.totalBlocks {
		if err := fs.DataBitmap.Dealloc(bit); err != nil {
			return 0, err
		}
		return 0, ErrOutOfSpace
	}
	return fs.dataAreaStart + bit, nil
}

// DeallocData zeroes blockID (via the cache) and clears its data-bitmap bit.
func (fs *EasyFileSystem) DeallocData(blockID uint32) error {
	if err := fs.Cache.Zero(blockID); err != nil {
		return err
	}
	return fs.DataBitmap.Dealloc(blockID - fs.dataAreaStart)
}

// GetDiskInodePos returns the (blockID, byteOffset) of inode id's on-disk slot.
func (fs *EasyFileSystem) GetDiskInodePos(id uint32) (uint32, int) {
	blockID := fs.inodeAreaStart + id/inodesPerBlock
	offset := int(id%inodesPerBlock) * diskInodeSize
	return blockID, offset
}

// GetInodeID is the inverse of GetDiskInodePos.
func (fs *EasyFileSystem) GetInodeID(blockID uint32, offset int) uint32 {
	return (blockID-fs.inodeAreaStart)*inodesPerBlock + uint32(offset/diskInodeSize)
}

// RootInode returns a handle to inode 0, the filesystem root.
func RootInode(fs *EasyFileSystem) *Vfs {
	blockID, offset := fs.GetDiskInodePos(0)
	return &Vfs{fs: fs, blockID: blockID, blockOffset: offset}
}

// SyncAll flushes every dirty cache entry to the device without evicting.
func (fs *EasyFileSystem) SyncAll() error {
	return fs.Cache.SyncAll()
}

// lock/unlock are thin wrappers kept for readability at call sites in vfs.go.
func (fs *EasyFileSystem) lock()   { fs.mu.Lock() }
func (fs *EasyFileSystem) unlock() { fs.mu.Unlock() }
