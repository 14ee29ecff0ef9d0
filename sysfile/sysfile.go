// Package sysfile implements the file system calls over already validated
// arguments: descriptors, paths and buffers handed in as Go values.
package sysfile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/diskfs/go-xkfs/file"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/proc"
	log "github.com/sirupsen/logrus"
)

// Open modes
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREATE = 0x200

	accessMask = 0x003
)

var (
	ErrBadDescriptor = errors.New("bad file descriptor")
	ErrAccessMode    = errors.New("file not open for this access")
	ErrIsDir         = errors.New("is a directory")
	ErrBusy          = errors.New("file is open")
	ErrInvalidMode   = errors.New("invalid open mode")
	ErrNotFile       = errors.New("not an inode file")
	// ErrNoDescriptors and ErrFileTableFull are returned unwrapped from the layers that own them
	ErrNoDescriptors = proc.ErrNoDescriptors
	ErrFileTableFull = file.ErrFileTableFull
)

// Sys is the system call layer
type Sys struct {
	fs    *xkfs.FileSystem
	files *file.Table
	procs *proc.Table
	// ns serializes the checks and changes to names made by open and unlink
	ns sync.Mutex
}

// New creates the system call layer
func New(fs *xkfs.FileSystem, files *file.Table, procs *proc.Table) *Sys {
	return &Sys{
		fs:    fs,
		files: files,
		procs: procs,
	}
}

func reject(p *proc.Proc, call string, err error) error {
	log.Warnf("pid %d %s: %s: %v", p.Pid, p.Name, call, err)
	return err
}

// Open opens path and returns the lowest free descriptor. A missing file is
// created in the root directory when mode has O_CREATE. Directories open read only.
func (s *Sys) Open(p *proc.Proc, path string, mode int) (int, error) {
	if mode&^(accessMask|O_CREATE) != 0 || mode&accessMask == accessMask {
		return -1, reject(p, "open", fmt.Errorf("%w: 0x%x", ErrInvalidMode, mode))
	}
	access := mode & accessMask

	s.ns.Lock()
	ip, err := s.fs.Resolve(path)
	if errors.Is(err, xkfs.ErrNotFound) && mode&O_CREATE != 0 {
		ip, err = s.create(path)
	}
	s.ns.Unlock()
	if err != nil {
		return -1, reject(p, "open", err)
	}

	if st := s.fs.Stat(ip); st.Type == xkfs.TypeDir && access != O_RDONLY {
		s.fs.Release(ip)
		return -1, reject(p, "open", fmt.Errorf("%w: %q", ErrIsDir, path))
	}
	f, err := s.files.OpenInode(ip, access != O_WRONLY, access != O_RDONLY)
	if err != nil {
		s.fs.Release(ip)
		return -1, reject(p, "open", err)
	}
	fd, err := p.AllocFd(f)
	if err != nil {
		s.files.Close(f)
		return -1, reject(p, "open", err)
	}
	return fd, nil
}

// create makes path's final element in its parent, which is always the root
func (s *Sys) create(path string) (*xkfs.Inode, error) {
	dp, name, err := s.fs.ResolveParent(path)
	if err != nil {
		return nil, err
	}
	inum := dp.Inum()
	s.fs.Release(dp)
	if inum != xkfs.RootIno {
		return nil, fmt.Errorf("%w: files can only be created in the root directory", xkfs.ErrNotFound)
	}
	return s.fs.Create(name)
}

func (s *Sys) fd(p *proc.Proc, fd int) (*file.File, error) {
	f, ok := p.Fd(fd)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	return f, nil
}

// Read reads from fd at its offset. Fewer bytes than asked, including 0 at
// end of file, is not an error.
func (s *Sys) Read(p *proc.Proc, fd int, dst []byte) (int, error) {
	f, err := s.fd(p, fd)
	if err != nil {
		return -1, reject(p, "read", err)
	}
	if !f.Readable() {
		return -1, reject(p, "read", fmt.Errorf("%w: fd %d", ErrAccessMode, fd))
	}
	n, err := s.files.Read(p, f, dst)
	if err != nil {
		return n, reject(p, "read", err)
	}
	return n, nil
}

// Write writes to fd at its offset
func (s *Sys) Write(p *proc.Proc, fd int, src []byte) (int, error) {
	f, err := s.fd(p, fd)
	if err != nil {
		return -1, reject(p, "write", err)
	}
	if !f.Writable() {
		return -1, reject(p, "write", fmt.Errorf("%w: fd %d", ErrAccessMode, fd))
	}
	n, err := s.files.Write(p, f, src)
	if err != nil {
		return n, reject(p, "write", err)
	}
	return n, nil
}

// Close releases fd
func (s *Sys) Close(p *proc.Proc, fd int) error {
	f, ok := p.ClearFd(fd)
	if !ok {
		return reject(p, "close", fmt.Errorf("%w: %d", ErrBadDescriptor, fd))
	}
	s.files.Close(f)
	return nil
}

// Dup returns a new descriptor sharing fd's open file and offset
func (s *Sys) Dup(p *proc.Proc, fd int) (int, error) {
	f, err := s.fd(p, fd)
	if err != nil {
		return -1, reject(p, "dup", err)
	}
	nfd, err := p.AllocFd(s.files.Dup(f))
	if err != nil {
		s.files.Close(f)
		return -1, reject(p, "dup", err)
	}
	return nfd, nil
}

// Fstat reports the metadata of the inode behind fd
func (s *Sys) Fstat(p *proc.Proc, fd int) (xkfs.Stat, error) {
	f, err := s.fd(p, fd)
	if err != nil {
		return xkfs.Stat{}, reject(p, "fstat", err)
	}
	st, ok := s.files.Stat(f)
	if !ok {
		return xkfs.Stat{}, reject(p, "fstat", fmt.Errorf("%w: fd %d", ErrNotFile, fd))
	}
	return st, nil
}

// Pipe creates a pipe and returns its read and write descriptors
func (s *Sys) Pipe(p *proc.Proc) (int, int, error) {
	r, w, err := s.files.OpenPipe()
	if err != nil {
		return -1, -1, reject(p, "pipe", err)
	}
	rfd, err := p.AllocFd(r)
	if err != nil {
		s.files.Close(r)
		s.files.Close(w)
		return -1, -1, reject(p, "pipe", err)
	}
	wfd, err := p.AllocFd(w)
	if err != nil {
		p.ClearFd(rfd)
		s.files.Close(r)
		s.files.Close(w)
		return -1, -1, reject(p, "pipe", err)
	}
	return rfd, wfd, nil
}

// Unlink deletes a regular file or device node that nobody has open
func (s *Sys) Unlink(p *proc.Proc, path string) error {
	s.ns.Lock()
	defer s.ns.Unlock()
	ip, err := s.fs.Resolve(path)
	if err != nil {
		return reject(p, "unlink", err)
	}
	if st := s.fs.Stat(ip); st.Type == xkfs.TypeDir {
		s.fs.Release(ip)
		return reject(p, "unlink", fmt.Errorf("%w: %q", ErrIsDir, path))
	}
	if s.fs.Refs(ip) > 1 {
		s.fs.Release(ip)
		return reject(p, "unlink", fmt.Errorf("%w: %q", ErrBusy, path))
	}
	return s.fs.Delete(ip)
}

// Fork creates a child process sharing p's open files and a copy-on-write copy of its memory
func (s *Sys) Fork(p *proc.Proc) (*proc.Proc, error) {
	child, err := s.procs.Fork(p)
	if err != nil {
		return nil, reject(p, "fork", err)
	}
	return child, nil
}

// Exit closes all of p's descriptors and frees its memory
func (s *Sys) Exit(p *proc.Proc) {
	p.Exit()
}
