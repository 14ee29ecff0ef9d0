package vm

import (
	log "github.com/sirupsen/logrus"
)

// Page fault error code bits
const (
	FaultPresent uint32 = 1 << 0
	FaultWrite   uint32 = 1 << 1
	FaultUser    uint32 = 1 << 2
)

// Fault describes a page fault: the faulting address and the error code bits
type Fault struct {
	Addr uint32
	Err  uint32
}

// User reports whether the fault happened in user mode
func (f Fault) User() bool {
	return f.Err&FaultUser != 0
}

type faultKind int

const (
	faultUnhandled faultKind = iota
	faultStackGrowth
	faultCopyOnWrite
)

func (k faultKind) String() string {
	switch k {
	case faultStackGrowth:
		return "stack growth"
	case faultCopyOnWrite:
		return "copy-on-write"
	default:
		return "unhandled"
	}
}

// classify decides which handler owns a fault. Called with s.mu held.
func (s *Space) classify(f Fault) faultKind {
	guard := StackBase - StackGuardPages*PGSIZE
	if f.Addr < StackBase && f.Addr >= guard && f.Err&FaultPresent == 0 {
		return faultStackGrowth
	}
	if f.Err&(FaultPresent|FaultWrite) == FaultPresent|FaultWrite {
		if pte := s.lookup(f.Addr); pte != nil && pte.Present && pte.Cow && pte.OrigWritable {
			return faultCopyOnWrite
		}
	}
	return faultUnhandled
}

// HandleFault resolves a stack growth or copy-on-write fault and reports
// whether the fault was one of those. The faulting access can then be retried.
func (s *Space) HandleFault(f Fault) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.classify(f) {
	case faultStackGrowth:
		s.growStack(f)
	case faultCopyOnWrite:
		s.copyOnWrite(f)
	default:
		return false
	}
	return true
}

// growStack maps one more writable page just below the stack
func (s *Space) growStack(f Fault) {
	if len(s.stack.Pages) >= MaxStackPages {
		log.Panicf("vm: stack overflow at 0x%x, stack already %d pages", f.Addr, len(s.stack.Pages))
	}
	ppn, ok := s.pm.Alloc()
	if !ok {
		log.Panicf("vm: out of frames growing the stack for 0x%x", f.Addr)
	}
	s.stack.Start -= PGSIZE
	s.stack.Pages = append([]Pte{{Present: true, Writable: true, Ppn: ppn}}, s.stack.Pages...)
	s.install()
	log.Debugf("vm: stack grown to %d pages for 0x%x", len(s.stack.Pages), f.Addr)
}

// copyOnWrite gives the faulting page a private writable frame
func (s *Space) copyOnWrite(f Fault) {
	pte := s.lookup(f.Addr)
	ppn, copied, err := s.pm.claim(pte.Ppn)
	if err != nil {
		log.Panicf("vm: copy-on-write at 0x%x: %v", f.Addr, err)
	}
	pte.Ppn = ppn
	pte.Cow = false
	pte.Writable = true
	s.install()
	log.Debugf("vm: copy-on-write at 0x%x copied %v", f.Addr, copied)
}
