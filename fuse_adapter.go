//go:build fuse

package easyfs

import (
	"context"
	"log"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode bridges a Vfs handle onto hanwen/go-fuse/v2's InodeEmbedder,
// the same library the teacher wires (inode_fuse.go), under the same
// "fuse" build tag. Unlike the teacher's read-only squashfs mount, this
// one is read-write: EasyFS has no permissions model, so lookup, readdir,
// read, write, create, mkdir, unlink and rmdir are all exposed. Rename
// works only within one directory; a rename into another directory
// returns EXDEV.
type fuseNode struct {
	fs.Inode
	mu   sync.Mutex
	vfs  *Vfs
	name string
}

var (
	_ fs.NodeLookuper  = (*fuseNode)(nil)
	_ fs.NodeReaddirer = (*fuseNode)(nil)
	_ fs.NodeGetattrer = (*fuseNode)(nil)
	_ fs.NodeOpener    = (*fuseNode)(nil)
	_ fs.NodeReader    = (*fuseNode)(nil)
	_ fs.NodeWriter    = (*fuseNode)(nil)
	_ fs.NodeCreater   = (*fuseNode)(nil)
	_ fs.NodeMkdirer   = (*fuseNode)(nil)
	_ fs.NodeUnlinker  = (*fuseNode)(nil)
	_ fs.NodeRmdirer   = (*fuseNode)(nil)
	_ fs.NodeRenamer   = (*fuseNode)(nil)
)

// Mount starts a FUSE server rooted at root, serving it at mountpoint
// until the server is unmounted or ctx is cancelled.
func Mount(ctx context.Context, root *Vfs, mountpoint string) (*fuse.Server, error) {
	node := &fuseNode{vfs: root, name: ""}
	server, err := fs.Mount(mountpoint, node, &fs.Options{
		MountOptions: fuse.MountOptions{Debug: false},
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		log.Printf("easyfs: fuse: unmounting %s", mountpoint)
		server.Unmount()
	}()
	return server, nil
}

func (n *fuseNode) attr(out *fuse.Attr) {
	if n.vfs.IsDir() {
		out.Mode = syscall.S_IFDIR | 0o755
		return
	}
	out.Mode = syscall.S_IFREG | 0o644
	if size, err := n.vfs.Size(); err == nil {
		out.Size = uint64(size)
	}
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr(&out.Attr)
	return 0
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.mu.Lock()
	child, err := n.vfs.Find(name)
	n.mu.Unlock()
	if err != nil {
		return nil, syscall.ENOENT
	}
	childNode := &fuseNode{vfs: child, name: name}
	mode := uint32(syscall.S_IFREG)
	if child.IsDir() {
		mode = syscall.S_IFDIR
	}
	stable := fs.StableAttr{Mode: mode}
	embedded := n.NewInode(ctx, childNode, stable)
	childNode.attr(&out.Attr)
	return embedded, 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.mu.Lock()
	names, err := n.vfs.Ls()
	n.mu.Unlock()
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		child, err := n.vfs.Find(name)
		if err != nil {
			continue
		}
		mode := uint32(syscall.S_IFREG)
		if child.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	readN, err := n.vfs.ReadAt(int(off), dest)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:readN]), 0
}

func (n *fuseNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	written, err := n.vfs.WriteAt(int(off), data)
	if err != nil {
		return 0, syscall.EIO
	}
	return uint32(written), 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.mu.Lock()
	child, err := n.vfs.Create(name)
	n.mu.Unlock()
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	childNode := &fuseNode{vfs: child, name: name}
	embedded := n.NewInode(ctx, childNode, fs.StableAttr{Mode: syscall.S_IFREG})
	childNode.attr(&out.Attr)
	return embedded, nil, 0, 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.mu.Lock()
	child, err := n.vfs.Mkdir(name)
	n.mu.Unlock()
	if err != nil {
		return nil, toErrno(err)
	}
	childNode := &fuseNode{vfs: child, name: name}
	embedded := n.NewInode(ctx, childNode, fs.StableAttr{Mode: syscall.S_IFDIR})
	childNode.attr(&out.Attr)
	return embedded, 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.vfs.Remove(name); err != nil {
		return toErrno(err)
	}
	return 0
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

func (n *fuseNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*fuseNode)
	if !ok {
		return syscall.EXDEV
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if np == n {
		if err := n.vfs.Mv(name, newName); err != nil {
			return toErrno(err)
		}
		return 0
	}
	return syscall.EXDEV
}

func toErrno(err error) syscall.Errno {
	switch err {
	case ErrNotFound:
		return syscall.ENOENT
	case ErrAlreadyExists:
		return syscall.EEXIST
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrInvalidName:
		return syscall.EINVAL
	case ErrCycleWouldForm:
		return syscall.EINVAL
	case ErrOutOfSpace:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}
