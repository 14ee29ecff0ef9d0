package file

import (
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
)

// Read reads from the file's current offset, or from the pipe. The offset
// advances by the bytes read.
func (t *Table) Read(w Waiter, f *File, dst []byte) (int, error) {
	if f.kind == KindPipe {
		return f.pipe.Read(w, dst)
	}
	f.offMu.Lock()
	defer f.offMu.Unlock()
	n, err := t.fs.ReadAt(f.ip, dst, f.off)
	f.off += uint32(n)
	return n, err
}

// Write writes at the file's current offset, or into the pipe
func (t *Table) Write(w Waiter, f *File, src []byte) (int, error) {
	if f.kind == KindPipe {
		return f.pipe.Write(w, src)
	}
	f.offMu.Lock()
	defer f.offMu.Unlock()
	n, err := t.fs.WriteAt(f.ip, src, f.off)
	f.off += uint32(n)
	return n, err
}

// Stat reports the inode metadata of an inode file
func (t *Table) Stat(f *File) (xkfs.Stat, bool) {
	if f.kind != KindInode {
		return xkfs.Stat{}, false
	}
	return t.fs.Stat(f.ip), true
}
