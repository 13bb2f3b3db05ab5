//go:build !linux

package easyfs

// OpenMmapBlockDevice falls back to a FileBlockDevice on platforms where
// EasyFS has no mmap-backed implementation wired up.
func OpenMmapBlockDevice(path string, totalBlocks uint32) (*FileBlockDevice, error) {
	return OpenFileBlockDevice(path, totalBlocks)
}
