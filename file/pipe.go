package file

import (
	"errors"
	"sync"

	"github.com/diskfs/go-xkfs/vm"
)

// PipeSize is the capacity of a pipe, one physical frame
const PipeSize = int(vm.PGSIZE)

var (
	ErrBrokenPipe = errors.New("broken pipe")
	ErrKilled     = errors.New("process killed")
)

// Waiter is the process on whose behalf a pipe operation may block
type Waiter interface {
	Killed() bool
	// OnKill registers wake to run if the process is killed; the returned func unregisters it
	OnKill(wake func()) (cancel func())
}

// Pipe is a ring buffer in one physical frame. head and tail only grow, the
// difference is the number of buffered bytes.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	pm  *vm.Physmem
	ppn uint32
	buf []byte

	head, tail uint64
	readers    int
	writers    int
}

func newPipe(pm *vm.Physmem) (*Pipe, error) {
	ppn, ok := pm.Alloc()
	if !ok {
		return nil, vm.ErrNoMemory
	}
	p := &Pipe{
		pm:      pm,
		ppn:     ppn,
		buf:     pm.Dmap(ppn)[:PipeSize],
		readers: 1,
		writers: 1,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func (p *Pipe) used() int {
	return int(p.head - p.tail)
}

func (p *Pipe) wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func killed(w Waiter) bool {
	return w != nil && w.Killed()
}

func (p *Pipe) onKill(w Waiter) func() {
	if w == nil {
		return func() {}
	}
	return w.OnKill(p.wake)
}

// Write copies all of src into the pipe, blocking while it is full. It fails
// once no reader remains or the writer is killed.
func (p *Pipe) Write(w Waiter, src []byte) (int, error) {
	cancel := p.onKill(w)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(src) {
		for p.used() == PipeSize && p.readers > 0 && !killed(w) {
			p.cond.Wait()
		}
		if p.readers == 0 {
			return written, ErrBrokenPipe
		}
		if killed(w) {
			return written, ErrKilled
		}
		hi := int(p.head % uint64(PipeSize))
		n := min(PipeSize-p.used(), PipeSize-hi, len(src)-written)
		copy(p.buf[hi:hi+n], src[written:written+n])
		p.head += uint64(n)
		written += n
		p.cond.Broadcast()
	}
	return written, nil
}

// Read copies up to len(dst) buffered bytes, blocking while the pipe is
// empty. It returns 0 once the pipe is empty and no writer remains.
func (p *Pipe) Read(w Waiter, dst []byte) (int, error) {
	cancel := p.onKill(w)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.used() == 0 && p.writers > 0 {
		if killed(w) {
			return 0, ErrKilled
		}
		p.cond.Wait()
	}
	read := 0
	for read < len(dst) && p.used() > 0 {
		ti := int(p.tail % uint64(PipeSize))
		n := min(p.used(), PipeSize-ti, len(dst)-read)
		copy(dst[read:read+n], p.buf[ti:ti+n])
		p.tail += uint64(n)
		read += n
	}
	if read > 0 {
		p.cond.Broadcast()
	}
	return read, nil
}

// closeEnd drops one end. The frame is freed when both ends are gone.
func (p *Pipe) closeEnd(writer bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if writer {
		p.writers--
	} else {
		p.readers--
	}
	p.cond.Broadcast()
	if p.readers == 0 && p.writers == 0 {
		p.pm.Refdown(p.ppn)
		p.buf = nil
	}
}

// Buffered is the number of bytes waiting to be read
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used()
}
