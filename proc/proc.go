// Package proc holds the per-process state the kernel subsystems consume:
// identity, the killed flag, the descriptor table and the address space.
package proc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/diskfs/go-xkfs/file"
	"github.com/diskfs/go-xkfs/vm"
	log "github.com/sirupsen/logrus"
)

// NOFILE is the number of descriptors per process
const NOFILE = 16

var (
	ErrNoDescriptors = errors.New("no free descriptors")
	ErrExited        = errors.New("process has exited")
)

// Proc is a process
type Proc struct {
	Pid  int
	Name string

	killed atomic.Bool

	mu     sync.Mutex
	exited bool
	ofile  [NOFILE]*file.File
	space  *vm.Space
	wake   func()
	table  *Table
}

// Killed reports whether the process has been marked for death
func (p *Proc) Killed() bool {
	return p.killed.Load()
}

// Kill marks the process and wakes it if it is blocked
func (p *Proc) Kill() {
	p.killed.Store(true)
	p.mu.Lock()
	wake := p.wake
	p.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// OnKill registers the function that wakes the process from its current wait
func (p *Proc) OnKill(wake func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wake = wake
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.wake = nil
	}
}

// Space is the process address space
func (p *Proc) Space() *vm.Space {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// AllocFd installs f in the lowest free descriptor
func (p *Proc) AllocFd(f *file.File) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := range p.ofile {
		if p.ofile[fd] == nil {
			p.ofile[fd] = f
			return fd, nil
		}
	}
	return -1, ErrNoDescriptors
}

// Fd returns the open file behind fd
func (p *Proc) Fd(fd int) (*file.File, bool) {
	if fd < 0 || fd >= NOFILE {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.ofile[fd]
	return f, f != nil
}

// ClearFd empties fd and returns what it held
func (p *Proc) ClearFd(fd int) (*file.File, bool) {
	if fd < 0 || fd >= NOFILE {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.ofile[fd]
	p.ofile[fd] = nil
	return f, f != nil
}

// Exited reports whether Exit has run
func (p *Proc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Exit closes every descriptor and frees the address space. Later calls do nothing.
func (p *Proc) Exit() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	files := p.ofile
	p.ofile = [NOFILE]*file.File{}
	space := p.space
	p.space = nil
	p.mu.Unlock()

	for _, f := range files {
		if f != nil {
			p.table.files.Close(f)
		}
	}
	if space != nil {
		space.Free()
	}
	p.table.remove(p)
	log.Debugf("proc: pid %d %s exited", p.Pid, p.Name)
}

// Table is the process table
type Table struct {
	mu    sync.Mutex
	next  int
	procs map[int]*Proc
	files *file.Table
}

// NewTable creates a process table whose processes open files in files
func NewTable(files *file.Table) *Table {
	return &Table{
		next:  1,
		procs: make(map[int]*Proc),
		files: files,
	}
}

// New creates a process running in space
func (t *Table) New(name string, space *vm.Space) *Proc {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Proc{
		Pid:   t.next,
		Name:  name,
		space: space,
		table: t,
	}
	t.next++
	t.procs[p.Pid] = p
	return p
}

// Lookup finds a live process by pid
func (t *Table) Lookup(pid int) (*Proc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Len is the number of live processes
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

func (t *Table) remove(p *Proc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, p.Pid)
}

// Fork creates a child with a copy-on-write copy of p's address space and
// duplicates of all its descriptors
func (t *Table) Fork(p *Proc) (*Proc, error) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil, ErrExited
	}
	files := p.ofile
	space := p.space
	p.mu.Unlock()

	var cs *vm.Space
	if space != nil {
		cs = space.Fork()
	}
	child := t.New(p.Name, cs)
	for fd, f := range files {
		if f != nil {
			child.ofile[fd] = t.files.Dup(f)
		}
	}
	log.Debugf("proc: pid %d forked pid %d", p.Pid, child.Pid)
	return child, nil
}
