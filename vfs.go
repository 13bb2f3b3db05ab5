package easyfs

import "strings"

// Vfs is an in-memory handle to an on-disk inode, identified by its
// (blockID, blockOffset) location within the inode area. Multiple handles
// may refer to the same DiskInode; identity is compared with SameInode.
// A Vfs borrows its EasyFileSystem; the embedder owns the filesystem and
// must keep it alive for as long as any handle derived from it is in use.
type Vfs struct {
	fs          *EasyFileSystem
	blockID     uint32
	blockOffset int
}

// readDiskInode decodes v's inode and passes it to f. The inode block's
// cache-entry lock is released before f runs: f (directly, or through
// things like readDirEntries/d.ReadAt) commonly touches many other blocks
// through the cache, and holding this block's lock across that would let
// eviction cycle back around to it and try to relock a mutex this
// goroutine already holds.
func (v *Vfs) readDiskInode(f func(d *DiskInode)) error {
	var d DiskInode
	if err := v.fs.Cache.Read(v.blockID, v.blockOffset, func(buf []byte) {
		d.UnmarshalBinary(buf)
	}); err != nil {
		return err
	}
	f(&d)
	return nil
}

// modifyDiskInode is readDiskInode's read-modify-write counterpart: it
// decodes v's inode, runs f against the detached copy with no cache-entry
// lock held, then re-encodes the result in a second, separate Modify call.
func (v *Vfs) modifyDiskInode(f func(d *DiskInode)) error {
	var d DiskInode
	if err := v.fs.Cache.Read(v.blockID, v.blockOffset, func(buf []byte) {
		d.UnmarshalBinary(buf)
	}); err != nil {
		return err
	}
	f(&d)
	return v.fs.Cache.Modify(v.blockID, v.blockOffset, func(buf []byte) {
		d.MarshalBinary(buf)
	})
}

// Size returns the current byte size of v's inode.
func (v *Vfs) Size() (uint32, error) {
	v.fs.lock()
	defer v.fs.unlock()
	var size uint32
	err := v.readDiskInode(func(d *DiskInode) { size = d.Size })
	return size, err
}

func (v *Vfs) inodeID() uint32 {
	return v.fs.GetInodeID(v.blockID, v.blockOffset)
}

func (v *Vfs) handleFor(inodeID uint32) *Vfs {
	blockID, offset := v.fs.GetDiskInodePos(inodeID)
	return &Vfs{fs: v.fs, blockID: blockID, blockOffset: offset}
}

// SameInode reports whether a and b refer to the same on-disk inode.
func SameInode(a, b *Vfs) bool {
	return a.blockID == b.blockID && a.blockOffset == b.blockOffset
}

// IsDir reports whether v is a directory.
func (v *Vfs) IsDir() bool {
	var isDir bool
	v.readDiskInode(func(d *DiskInode) { isDir = d.IsDir() })
	return isDir
}

// IsFile reports whether v is a regular file.
func (v *Vfs) IsFile() bool {
	var isFile bool
	v.readDiskInode(func(d *DiskInode) { isFile = d.IsFile() })
	return isFile
}

// parent returns a handle to v's containing directory (root's parent is root).
func (v *Vfs) parent() *Vfs {
	var parentID uint32
	v.readDiskInode(func(d *DiskInode) { parentID = d.Parent })
	return v.handleFor(parentID)
}

func (v *Vfs) isRoot() bool {
	return v.inodeID() == v.parent().inodeID()
}

// Parent returns a handle to v's containing directory (root's parent is root).
func (v *Vfs) Parent() *Vfs {
	v.fs.lock()
	defer v.fs.unlock()
	return v.parent()
}

func readDirEntries(d *DiskInode, cache *BlockCache) []DirEntry {
	count := int(d.Size) / direntSize
	entries := make([]DirEntry, count)
	buf := make([]byte, direntSize)
	for i := 0; i < count; i++ {
		d.ReadAt(i*direntSize, buf, cache)
		entries[i].UnmarshalBinary(buf)
	}
	return entries
}

func writeDirEntries(d *DiskInode, cache *BlockCache, entries []DirEntry) {
	buf := make([]byte, direntSize)
	for i, e := range entries {
		e.MarshalBinary(buf)
		d.WriteAt(i*direntSize, buf, cache)
	}
}

// findInodeID scans a directory's entries for name, returning its inode
// number if present.
func (v *Vfs) findInodeID(name string) (uint32, bool) {
	var id uint32
	var ok bool
	v.readDiskInode(func(d *DiskInode) {
		for _, e := range readDirEntries(d, v.fs.Cache) {
			if e.Name() == name {
				id, ok = e.InodeNumber, true
				return
			}
		}
	})
	return id, ok
}

// Find looks up name among v's directory entries, returning a handle to
// the child or ErrNotFound.
func (v *Vfs) Find(name string) (*Vfs, error) {
	v.fs.lock()
	defer v.fs.unlock()
	id, ok := v.findInodeID(name)
	if !ok {
		return nil, ErrNotFound
	}
	return v.handleFor(id), nil
}

// Ls lists the names of v's directory entries, in directory-entry order.
func (v *Vfs) Ls() ([]string, error) {
	v.fs.lock()
	defer v.fs.unlock()
	var names []string
	err := v.readDiskInode(func(d *DiskInode) {
		for _, e := range readDirEntries(d, v.fs.Cache) {
			names = append(names, e.Name())
		}
	})
	return names, err
}

// increaseSize grows diskInode to newSize, allocating exactly the blocks
// it needs up front so the grow either fully succeeds or fully fails
// (spec.md §7: OutOfSpace is not partially applied).
func (v *Vfs) increaseSize(newSize uint32, d *DiskInode) error {
	if newSize <= d.Size {
		return nil
	}
	needed := d.BlocksNumNeeded(newSize)
	blocks := make([]uint32, 0, needed)
	for i := uint32(0); i < needed; i++ {
		b, err := v.fs.AllocData()
		if err != nil {
			for _, alloc := range blocks {
				v.fs.DeallocData(alloc)
			}
			return err
		}
		blocks = append(blocks, b)
	}
	return d.IncreaseSize(newSize, blocks, v.fs.Cache)
}

// decreaseSize shrinks diskInode to newSize, a no-op when newSize >= d.Size.
func (v *Vfs) decreaseSize(newSize uint32, d *DiskInode) error {
	if newSize >= d.Size {
		return nil
	}
	freed, err := d.DecreaseSize(newSize, v.fs.Cache)
	if err != nil {
		return err
	}
	for _, b := range freed {
		if err := v.fs.DeallocData(b); err != nil {
			return err
		}
	}
	return nil
}

// appendDirEntry appends entry to v's directory contents. The caller must
// already hold v.fs's lock.
func (v *Vfs) appendDirEntry(entry DirEntry) error {
	var innerErr error
	err := v.modifyDiskInode(func(d *DiskInode) {
		fileCount := int(d.Size) / direntSize
		if err := v.increaseSize(uint32((fileCount+1)*direntSize), d); err != nil {
			innerErr = err
			return
		}
		buf := make([]byte, direntSize)
		entry.MarshalBinary(buf)
		d.WriteAt(fileCount*direntSize, buf, v.fs.Cache)
	})
	if err != nil {
		return err
	}
	return innerErr
}

// removeDirEntryByName removes the entry named name from v's directory
// contents, packing the remaining entries down. The caller must already
// hold v.fs's lock.
func (v *Vfs) removeDirEntryByName(name string) error {
	var entries []DirEntry
	if err := v.readDiskInode(func(d *DiskInode) { entries = readDirEntries(d, v.fs.Cache) }); err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name() == name {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	var innerErr error
	err := v.modifyDiskInode(func(d *DiskInode) {
		fileCount := int(d.Size) / direntSize
		if err := v.decreaseSize(uint32((fileCount-1)*direntSize), d); err != nil {
			innerErr = err
			return
		}
		writeDirEntries(d, v.fs.Cache, entries)
	})
	if err != nil {
		return err
	}
	return innerErr
}

func (v *Vfs) createChild(name string, typ InodeType) (*Vfs, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	v.fs.lock()
	defer v.fs.unlock()

	if _, ok := v.findInodeID(name); ok {
		return nil, ErrAlreadyExists
	}

	newID, err := v.fs.AllocInode()
	if err != nil {
		return nil, err
	}
	blockID, offset := v.fs.GetDiskInodePos(newID)
	err = v.fs.Cache.Modify(blockID, offset, func(buf []byte) {
		var d DiskInode
		initDiskInode(&d, typ)
		d.Parent = v.inodeID()
		d.MarshalBinary(buf)
	})
	if err != nil {
		return nil, err
	}

	if err := v.appendDirEntry(NewDirEntry(name, newID)); err != nil {
		return nil, err
	}

	return v.handleFor(newID), nil
}

// Create adds a new, empty regular file named name under v and returns a
// handle to it. Fails with ErrAlreadyExists if name is already in use, or
// ErrInvalidName per spec.md §4.5's naming rules.
func (v *Vfs) Create(name string) (*Vfs, error) {
	return v.createChild(name, FileType)
}

// Mkdir adds a new, empty directory named name under v.
func (v *Vfs) Mkdir(name string) (*Vfs, error) {
	return v.createChild(name, DirectoryType)
}

// Clear truncates v to size 0, freeing all of its data blocks.
func (v *Vfs) Clear() error {
	v.fs.lock()
	defer v.fs.unlock()
	var outerErr error
	err := v.modifyDiskInode(func(d *DiskInode) {
		if err := v.decreaseSize(0, d); err != nil {
			outerErr = err
		}
	})
	if err != nil {
		return err
	}
	return outerErr
}

// Remove deletes the entry named name from v. It fails if name is absent
// or refers to a non-empty directory. On success the target's data blocks
// and inode are freed and its DirEntry is removed from v, with the
// remaining entries packed (tail shifted down).
func (v *Vfs) Remove(name string) error {
	v.fs.lock()
	defer v.fs.unlock()

	id, ok := v.findInodeID(name)
	if !ok {
		return ErrNotFound
	}
	target := v.handleFor(id)

	var isDir bool
	var size uint32
	target.readDiskInode(func(d *DiskInode) { isDir = d.IsDir(); size = d.Size })
	if isDir && size != 0 {
		return ErrNotEmpty
	}

	var clearErr error
	err := target.modifyDiskInode(func(d *DiskInode) {
		if err := target.decreaseSize(0, d); err != nil {
			clearErr = err
		}
	})
	if err != nil {
		return err
	}
	if clearErr != nil {
		return clearErr
	}

	if err := v.fs.DeallocInode(id); err != nil {
		return err
	}

	return v.removeDirEntryByName(name)
}

// Cd resolves a '/'-separated path starting from v (or from root if path
// is absolute). "" and "." are skipped; ".." resolves through the current
// handle's parent field (root's ".." is root). The whole traversal runs
// under a single fs-lock acquisition so it observes one consistent
// directory snapshot (spec.md §5).
func (v *Vfs) Cd(path string) (*Vfs, error) {
	v.fs.lock()
	defer v.fs.unlock()
	return v.cdLocked(path)
}

// ReadAt reads into buf starting at byte offset.
func (v *Vfs) ReadAt(offset int, buf []byte) (int, error) {
	v.fs.lock()
	defer v.fs.unlock()
	var n int
	var innerErr error
	err := v.readDiskInode(func(d *DiskInode) {
		n, innerErr = d.ReadAt(offset, buf, v.fs.Cache)
	})
	if err != nil {
		return 0, err
	}
	return n, innerErr
}

// WriteAt writes buf starting at byte offset, growing v to exactly
// offset+len(buf) first if that extends past the current size (a pure
// overwrite otherwise, per the clarified semantics in SPEC_FULL.md §11).
func (v *Vfs) WriteAt(offset int, buf []byte) (int, error) {
	v.fs.lock()
	defer v.fs.unlock()
	var n int
	var innerErr error
	err := v.modifyDiskInode(func(d *DiskInode) {
		if err := v.increaseSize(uint32(offset+len(buf)), d); err != nil {
			innerErr = err
			return
		}
		n, innerErr = d.WriteAt(offset, buf, v.fs.Cache)
	})
	if err != nil {
		return 0, err
	}
	return n, innerErr
}

// isAncestor reports whether ancestor appears in node's parent chain.
func isAncestor(ancestor, node *Vfs) bool {
	for {
		p := node.parent()
		if SameInode(p, node) {
			return false
		}
		if SameInode(p, ancestor) {
			return true
		}
		node = p
	}
}

// Mv moves the entry at src to dst, both resolved relative to v (or
// absolute). If dst ends in '/', the destination directory is dst and the
// moved entry keeps src's basename. Fails with ErrNotFound if src is
// missing, ErrAlreadyExists if src is root or dst already exists, and
// ErrCycleWouldForm if src is an ancestor of dst's parent directory. The
// moved inode's number, data, and identity are unchanged; only its parent
// field and containing DirEntry move.
func (v *Vfs) Mv(src, dst string) error {
	v.fs.lock()

	srcInode, err := v.cdLocked(src)
	if err != nil {
		v.fs.unlock()
		return err
	}
	if srcInode.isRoot() {
		v.fs.unlock()
		return ErrAlreadyExists
	}

	trailingSlash := strings.HasSuffix(dst, "/")
	dstTokens := strings.Split(strings.TrimSuffix(dst, "/"), "/")
	var lastComponent string
	var dirTokens []string
	if trailingSlash {
		lastComponent = lastPathComponent(src)
		dirTokens = dstTokens
	} else {
		lastComponent = dstTokens[len(dstTokens)-1]
		dirTokens = dstTokens[:len(dstTokens)-1]
	}

	dstParent := v
	if strings.HasPrefix(dst, "/") {
		dstParent = RootInode(v.fs)
	}
	for _, tok := range dirTokens {
		switch tok {
		case "", ".":
			continue
		case "..":
			dstParent = dstParent.parent()
		default:
			next, err := dstParent.cdToken(tok)
			if err != nil {
				v.fs.unlock()
				return err
			}
			dstParent = next
		}
	}

	if err := ValidateName(lastComponent); err != nil {
		v.fs.unlock()
		return err
	}
	if _, ok := dstParent.findInodeID(lastComponent); ok {
		v.fs.unlock()
		return ErrAlreadyExists
	}
	if isAncestor(srcInode, dstParent) || SameInode(srcInode, dstParent) {
		v.fs.unlock()
		return ErrCycleWouldForm
	}

	srcParent := srcInode.parent()
	srcName := lastPathComponent(src)
	if err := srcParent.removeDirEntryByName(srcName); err != nil {
		v.fs.unlock()
		return err
	}
	if err := dstParent.appendDirEntry(NewDirEntry(lastComponent, srcInode.inodeID())); err != nil {
		v.fs.unlock()
		return err
	}
	dstParentID := dstParent.inodeID()
	err = srcInode.modifyDiskInode(func(d *DiskInode) { d.Parent = dstParentID })
	v.fs.unlock()
	return err
}

// cdLocked is Cd's body, used by Mv which already holds the fs lock.
func (v *Vfs) cdLocked(path string) (*Vfs, error) {
	cur := v
	if strings.HasPrefix(path, "/") {
		cur = RootInode(v.fs)
	}
	for _, tok := range strings.Split(path, "/") {
		switch tok {
		case "", ".":
			continue
		case "..":
			cur = cur.parent()
		default:
			next, err := cur.cdToken(tok)
			if err != nil {
				return nil, err
			}
			cur = next
		}
	}
	return cur, nil
}

func (v *Vfs) cdToken(name string) (*Vfs, error) {
	id, ok := v.findInodeID(name)
	if !ok {
		return nil, ErrNotFound
	}
	return v.handleFor(id), nil
}

func lastPathComponent(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
