package easyfs

import (
	"io"
	"os"
	"sync"
)

// BlockSize is the unit of all I/O and caching: every read/write to a
// BlockDevice moves exactly BlockSize bytes.
const BlockSize = 512

// BlockDevice is the external collaborator that performs physical I/O.
// Implementations must read/write exactly BlockSize bytes or fail.
type BlockDevice interface {
	ReadBlock(id uint32, buf []byte) error
	WriteBlock(id uint32, buf []byte) error
}

// MemBlockDevice is an in-memory BlockDevice backed by a flat byte slice,
// used by tests and by callers that only need a scratch image.
type MemBlockDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemBlockDevice allocates an in-memory device of the given block count.
func NewMemBlockDevice(totalBlocks uint32) *MemBlockDevice {
	return &MemBlockDevice{data: make([]byte, int(totalBlocks)*BlockSize)}
}

func (m *MemBlockDevice) ReadBlock(id uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return io.ErrShortBuffer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(id) * BlockSize
	if off+BlockSize > len(m.data) {
		return io.ErrUnexpectedEOF
	}
	copy(buf, m.data[off:off+BlockSize])
	return nil
}

func (m *MemBlockDevice) WriteBlock(id uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return io.ErrShortBuffer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(id) * BlockSize
	if off+BlockSize > len(m.data) {
		return io.ErrUnexpectedEOF
	}
	copy(m.data[off:off+BlockSize], buf)
	return nil
}

// FileBlockDevice treats an *os.File as a linear array of BlockSize-byte
// blocks, seeking to block_id*BlockSize before each read/write. Ported from
// the rCore image-packer's BlockFile, which does the same over a Mutex.
type FileBlockDevice struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileBlockDevice opens (creating if necessary) path as a block device
// image of totalBlocks blocks.
func OpenFileBlockDevice(path string, totalBlocks uint32) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(totalBlocks) * BlockSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &FileBlockDevice{f: f}, nil
}

func (d *FileBlockDevice) ReadBlock(id uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return io.ErrShortBuffer
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.ReadAt(buf, int64(id)*BlockSize)
	if err != nil && err != io.EOF {
		return err
	}
	if n != BlockSize {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (d *FileBlockDevice) WriteBlock(id uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return io.ErrShortBuffer
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.WriteAt(buf, int64(id)*BlockSize)
	if err != nil {
		return err
	}
	if n != BlockSize {
		return io.ErrShortWrite
	}
	return nil
}

// Close releases the underlying file handle.
func (d *FileBlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// Sync flushes the underlying file to the host OS.
func (d *FileBlockDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}
