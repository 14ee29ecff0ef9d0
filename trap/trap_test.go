package trap

import (
	"errors"
	"testing"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/diskfs/go-xkfs/file"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/proc"
	"github.com/diskfs/go-xkfs/vm"
)

func newTestProc(t *testing.T) (*proc.Proc, *proc.Table, *vm.Physmem) {
	t.Helper()
	fs, err := xkfs.Create(backend.NewRAMDisk(1024), nil)
	if err != nil {
		t.Fatal(err)
	}
	pm := vm.NewPhysmem(&vm.Config{Frames: 64})
	procs := proc.NewTable(file.NewTable(fs, pm, nil))
	space, err := vm.NewSpace(pm, []byte("text"))
	if err != nil {
		t.Fatal(err)
	}
	return procs.New("user", space), procs, pm
}

func expectPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected a panic")
		}
	}()
	f()
}

func TestStackGrowsOnTouch(t *testing.T) {
	p, _, _ := newTestProc(t)
	defer p.Exit()
	va := vm.StackBase - 3*vm.PGSIZE + 8
	if err := UserStore(p, va, []byte("deep")); err != nil {
		t.Fatal(err)
	}
	b := make([]byte, 4)
	if err := UserLoad(p, va, b); err != nil || string(b) != "deep" {
		t.Errorf("load %q, %v", b, err)
	}
	if n := p.Space().StackPages(); n != 3 {
		t.Errorf("stack is %d pages, expected 3", n)
	}
}

func TestForkCopyOnWriteThroughTraps(t *testing.T) {
	p, procs, pm := newTestProc(t)
	brk, err := p.Space().Sbrk(2)
	if err != nil {
		t.Fatal(err)
	}
	// spans the two heap pages
	va := brk + vm.PGSIZE - 3
	if err := UserStore(p, va, []byte("shared")); err != nil {
		t.Fatal(err)
	}
	child, err := procs.Fork(p)
	if err != nil {
		t.Fatal(err)
	}
	free := pm.FreeFrames()
	if err := UserStore(child, va, []byte("CHILD!")); err != nil {
		t.Fatal(err)
	}
	if used := free - pm.FreeFrames(); used != 2 {
		t.Errorf("child write copied %d frames, expected 2", used)
	}
	b := make([]byte, 6)
	if err := UserLoad(p, va, b); err != nil || string(b) != "shared" {
		t.Errorf("parent sees %q, %v", b, err)
	}
	free = pm.FreeFrames()
	if err := UserStore(p, va, []byte("parent")); err != nil {
		t.Fatal(err)
	}
	if pm.FreeFrames() != free {
		t.Errorf("parent write after the child's copy allocated frames")
	}
	child.Exit()
	p.Exit()
}

func TestUserFaultKills(t *testing.T) {
	tests := []struct {
		name string
		run  func(p *proc.Proc) error
	}{
		{"store to code", func(p *proc.Proc) error { return UserStore(p, 0, []byte("x")) }},
		{"load unmapped", func(p *proc.Proc) error { return UserLoad(p, 0x40000000, make([]byte, 1)) }},
		{"load below stack guard", func(p *proc.Proc) error {
			return UserLoad(p, vm.StackBase-(vm.StackGuardPages+1)*vm.PGSIZE, make([]byte, 1))
		}},
		{"unknown trap", func(p *proc.Proc) error { return Trap(p, &Frame{Trapno: 6, User: true}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, procs, _ := newTestProc(t)
			if err := tt.run(p); !errors.Is(err, ErrKilled) {
				t.Errorf("faulting access returned %v", err)
			}
			if !p.Killed() || !p.Exited() {
				t.Errorf("killed %v exited %v", p.Killed(), p.Exited())
			}
			if procs.Len() != 0 {
				t.Errorf("killed process still in the table")
			}
		})
	}
}

func TestKernelFaultIsFatal(t *testing.T) {
	p, _, _ := newTestProc(t)
	defer p.Exit()
	expectPanic(t, func() {
		_ = Trap(p, &Frame{Trapno: TrapPageFault, Addr: 0x40000000, Err: vm.FaultWrite})
	})
	expectPanic(t, func() {
		_ = Trap(nil, &Frame{Trapno: TrapPageFault, Addr: 0x40000000, Err: vm.FaultUser, User: true})
	})
}

func TestKilledInKernelExitsAtSyscallBoundary(t *testing.T) {
	p, _, _ := newTestProc(t)
	ran := false
	err := Syscall(p, func() error {
		ran = true
		// a fault from kernel mode on behalf of p is handled but does not exit
		p.Kill()
		return Trap(p, &Frame{Trapno: TrapPageFault, Addr: vm.StackBase - 2*vm.PGSIZE, Err: vm.FaultWrite})
	})
	if !ran || !errors.Is(err, ErrKilled) {
		t.Errorf("ran %v err %v", ran, err)
	}
	if !p.Exited() {
		t.Errorf("killed process did not exit at the system call boundary")
	}

	q, _, _ := newTestProc(t)
	q.Kill()
	if err := Syscall(q, func() error {
		t.Errorf("system call ran for a killed process")
		return nil
	}); !errors.Is(err, ErrKilled) {
		t.Errorf("syscall of killed process: %v", err)
	}
}
