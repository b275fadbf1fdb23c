package fs

import (
	"sync"

	"kernelfs/internal/defs"
	"kernelfs/internal/inode"
)

// File is an open file handle: an inode plus the current seek position,
// covering the read/write/seek/tell/close slice of the surface an
// external syscall dispatcher would consume.
type File struct {
	mu  sync.Mutex
	Ino *inode.Inode
	pos int
}

// OpenFile wraps an already-resolved inode as a File with position 0.
func OpenFile(ino *inode.Inode) *File {
	return &File{Ino: ino}
}

// Read reads into buf from the current position, advancing it.
func (f *File) Read(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.Ino.ReadAt(f.pos, buf)
	f.pos += n
	return n
}

// Write writes buf at the current position, advancing it, growing the
// file if necessary.
func (f *File) Write(buf []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Ino.WriteAt(f.pos, buf)
	f.pos += n
	return n, err
}

// Seek sets the absolute file position.
func (f *File) Seek(pos int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

// Tell returns the current file position.
func (f *File) Tell() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// Filesize returns the file's current length.
func (f *File) Filesize() int { return f.Ino.Length() }

// Close releases this handle's reference to its inode.
func (f *File) Close(vol *FS) {
	vol.Inodes.Close(f.Ino)
}

// Shutdown flushes the buffer cache before unmounting.
func (vol *FS) Shutdown() defs.Err_t {
	return vol.Cache.Shutdown()
}
