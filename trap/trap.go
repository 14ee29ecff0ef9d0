// Package trap is the kernel's trap entry for page faults and system calls.
// Faults the memory system can resolve are retried; anything else from user
// mode kills the process, and from kernel mode is fatal.
package trap

import (
	"errors"
	"fmt"

	"github.com/diskfs/go-xkfs/proc"
	"github.com/diskfs/go-xkfs/vm"
	log "github.com/sirupsen/logrus"
)

// Trap numbers
const (
	TrapPageFault = 14
	TrapSyscall   = 64
)

// maxRetries bounds how often one access may fault before it is treated as unresolvable
const maxRetries = vm.MaxStackPages + 2

var ErrKilled = errors.New("process killed")

// Frame is the trap frame: the trap number, the fault address and error code,
// and whether the trap came from user mode
type Frame struct {
	Trapno int
	Addr   uint32
	Err    uint32
	User   bool
}

// Trap handles a trap taken while p was running; p is nil when no process is
// current. It returns ErrKilled when p was killed and has exited.
func Trap(p *proc.Proc, tf *Frame) error {
	switch tf.Trapno {
	case TrapPageFault:
		if p != nil && p.Space() != nil && p.Space().HandleFault(vm.Fault{Addr: tf.Addr, Err: tf.Err}) {
			break
		}
		if p == nil || !tf.User {
			log.Panicf("unexpected page fault from kernel: addr 0x%x err %d", tf.Addr, tf.Err)
		}
		log.Errorf("pid %d %s: trap %d err %d addr 0x%x--kill proc", p.Pid, p.Name, tf.Trapno, tf.Err, tf.Addr)
		p.Kill()
	default:
		if p == nil || !tf.User {
			log.Panicf("unexpected trap %d from kernel: addr 0x%x", tf.Trapno, tf.Addr)
		}
		log.Errorf("pid %d %s: unexpected trap %d--kill proc", p.Pid, p.Name, tf.Trapno)
		p.Kill()
	}
	if p != nil && p.Killed() && tf.User {
		p.Exit()
		return ErrKilled
	}
	return nil
}

// Syscall runs fn as a system call for p. A killed process exits instead of
// entering the call, and on the way out of it.
func Syscall(p *proc.Proc, fn func() error) error {
	if p.Killed() {
		p.Exit()
		return ErrKilled
	}
	err := fn()
	if p.Killed() {
		p.Exit()
		return ErrKilled
	}
	return err
}

// access runs a user mode memory access at va, taking page faults through
// Trap until the access succeeds
func access(p *proc.Proc, va uint32, write bool, do func(b []byte)) error {
	for i := 0; i < maxRetries; i++ {
		space := p.Space()
		if space == nil {
			return ErrKilled
		}
		b, bits, ok := space.Translate(va, write)
		if ok {
			do(b)
			return nil
		}
		if err := Trap(p, &Frame{Trapno: TrapPageFault, Addr: va, Err: bits, User: true}); err != nil {
			return err
		}
	}
	return fmt.Errorf("access to 0x%x still faulting after %d retries", va, maxRetries)
}

// UserStore writes b at va as user code would, one page at a time
func UserStore(p *proc.Proc, va uint32, b []byte) error {
	for len(b) > 0 {
		var n int
		err := access(p, va, true, func(page []byte) {
			n = copy(page, b)
		})
		if err != nil {
			return err
		}
		b = b[n:]
		va += uint32(n)
	}
	return nil
}

// UserLoad reads len(b) bytes at va as user code would
func UserLoad(p *proc.Proc, va uint32, b []byte) error {
	for len(b) > 0 {
		var n int
		err := access(p, va, false, func(page []byte) {
			n = copy(b, page)
		})
		if err != nil {
			return err
		}
		b = b[n:]
		va += uint32(n)
	}
	return nil
}
