package easyfs

import (
	"fmt"
	"io"
)

// OpenFlags mirrors the open-mode bitflags an embedder's syscall layer
// would pass down (ported from rCore's OSInode OpenFlags), kept here as an
// ambient convenience for File rather than any kernel integration.
type OpenFlags uint32

const (
	ReadOnly OpenFlags = 0
	WriteOnly OpenFlags = 1 << 0
	ReadWrite OpenFlags = 1 << 1
	CreateFlag OpenFlags = 1 << 9
	Truncate  OpenFlags = 1 << 10
)

// ReadWritable reports the (readable, writable) pair implied by f.
func (f OpenFlags) ReadWritable() (readable, writable bool) {
	switch {
	case f&ReadWrite != 0:
		return true, true
	case f&WriteOnly != 0:
		return false, true
	default:
		return true, false
	}
}

// File wraps a Vfs handle with a byte cursor and access mode, giving
// callers a plain io.ReadWriteSeeker over an EasyFS file without exposing
// the underlying block-level API. Ported from rCore's OSInode.
type File struct {
	readable bool
	writable bool
	offset   int
	inode    *Vfs
}

// NewFile wraps inode for sequential reading/writing starting at offset 0.
func NewFile(inode *Vfs, readable, writable bool) *File {
	return &File{readable: readable, writable: writable, inode: inode}
}

// OpenFile resolves name under dir according to flags, optionally creating
// or truncating it, and returns a File cursor over the result.
func OpenFile(dir *Vfs, name string, flags OpenFlags) (*File, error) {
	readable, writable := flags.ReadWritable()
	found, err := dir.Find(name)
	if err == nil {
		if flags&Truncate != 0 {
			if err := found.Clear(); err != nil {
				return nil, err
			}
		}
		return NewFile(found, readable, writable), nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	if flags&CreateFlag == 0 {
		return nil, ErrNotFound
	}
	created, err := dir.Create(name)
	if err != nil {
		return nil, err
	}
	return NewFile(created, readable, writable), nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if !f.readable {
		return 0, fmt.Errorf("easyfs: file not opened for reading")
	}
	n, err := f.inode.ReadAt(f.offset, p)
	f.offset += n
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("easyfs: file not opened for writing")
	}
	n, err := f.inode.WriteAt(f.offset, p)
	f.offset += n
	return n, err
}

// Seek implements io.Seeker (whence: io.SeekStart/Current; io.SeekEnd is
// not supported since File never tracks size independently of the inode).
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = int(offset)
	case io.SeekCurrent:
		f.offset += int(offset)
	default:
		return 0, fmt.Errorf("easyfs: unsupported seek whence %d", whence)
	}
	return int64(f.offset), nil
}

// ReadAll drains the file from its current offset to EOF.
func (f *File) ReadAll() ([]byte, error) {
	var out []byte
	buf := make([]byte, BlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
	}
}

// ListRoot prints the names of root's entries via printf, ported from
// rCore's list_apps().
func ListRoot(root *Vfs, printf func(format string, args ...any)) error {
	names, err := root.Ls()
	if err != nil {
		return err
	}
	printf("/**** easyfs root ****/")
	for _, n := range names {
		printf("%s", n)
	}
	printf("/**********************/")
	return nil
}
