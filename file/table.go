// Package file is the global table of open files. An open file refers to an
// inode or to one end of a pipe, and is shared by every descriptor duplicated from it.
package file

import (
	"errors"
	"sync"

	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/vm"
	log "github.com/sirupsen/logrus"
)

// DefaultFiles is the size of the open file table when Config leaves it unset
const DefaultFiles = 100

var ErrFileTableFull = errors.New("file table full")

// Config sizes the open file table
type Config struct {
	Files int
}

// Kind is what an open file refers to
type Kind int

const (
	KindNone Kind = iota
	KindInode
	KindPipe
)

// File is an open file
type File struct {
	// ref is guarded by the table lock
	ref int

	kind     Kind
	readable bool
	writable bool
	ip       *xkfs.Inode
	pipe     *Pipe

	offMu sync.Mutex
	off   uint32
}

func (f *File) Kind() Kind {
	return f.kind
}

func (f *File) Readable() bool {
	return f.readable
}

func (f *File) Writable() bool {
	return f.writable
}

// Inode is the inode behind an inode file, nil for pipes
func (f *File) Inode() *xkfs.Inode {
	return f.ip
}

// Table is the fixed arena of open files. Its lock is held only to hand out
// slots and adjust reference counts, never during I/O.
type Table struct {
	mu    sync.Mutex
	files []File
	fs    *xkfs.FileSystem
	pm    *vm.Physmem
}

// NewTable creates the open file table. A nil cfg takes the defaults.
func NewTable(fs *xkfs.FileSystem, pm *vm.Physmem, cfg *Config) *Table {
	n := DefaultFiles
	if cfg != nil && cfg.Files > 0 {
		n = cfg.Files
	}
	return &Table{
		files: make([]File, n),
		fs:    fs,
		pm:    pm,
	}
}

// alloc claims a free slot. Called with t.mu held.
func (t *Table) alloc() *File {
	for i := range t.files {
		f := &t.files[i]
		if f.ref == 0 {
			f.ref = 1
			f.kind = KindNone
			f.ip = nil
			f.pipe = nil
			f.off = 0
			return f
		}
	}
	return nil
}

// OpenInode wraps ip in a new open file, taking over the caller's reference
func (t *Table) OpenInode(ip *xkfs.Inode, readable, writable bool) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.alloc()
	if f == nil {
		return nil, ErrFileTableFull
	}
	f.kind = KindInode
	f.ip = ip
	f.readable = readable
	f.writable = writable
	return f, nil
}

// OpenPipe creates a pipe and returns its read and write ends
func (t *Table) OpenPipe() (*File, *File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.alloc()
	if r == nil {
		return nil, nil, ErrFileTableFull
	}
	w := t.alloc()
	if w == nil {
		r.ref = 0
		return nil, nil, ErrFileTableFull
	}
	p, err := newPipe(t.pm)
	if err != nil {
		r.ref = 0
		w.ref = 0
		return nil, nil, err
	}
	r.kind, r.pipe, r.readable = KindPipe, p, true
	w.kind, w.pipe, w.writable = KindPipe, p, true
	r.writable = false
	w.readable = false
	return r, w, nil
}

// Dup adds a reference to f
func (t *Table) Dup(f *File) *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.ref < 1 {
		log.Panicf("filedup: file has no references")
	}
	f.ref++
	return f
}

// Close drops a reference. The last one releases the inode or the pipe end.
func (t *Table) Close(f *File) {
	t.mu.Lock()
	if f.ref < 1 {
		t.mu.Unlock()
		log.Panicf("fileclose: file has no references")
	}
	f.ref--
	if f.ref > 0 {
		t.mu.Unlock()
		return
	}
	kind, ip, p, writable := f.kind, f.ip, f.pipe, f.writable
	f.kind = KindNone
	f.ip = nil
	f.pipe = nil
	t.mu.Unlock()

	switch kind {
	case KindInode:
		t.fs.Release(ip)
	case KindPipe:
		p.closeEnd(writable)
	}
}

// InUse is the number of open files
func (t *Table) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.files {
		if t.files[i].ref > 0 {
			n++
		}
	}
	return n
}
