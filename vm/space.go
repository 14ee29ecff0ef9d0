package vm

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// StackBase is the top of the user stack; the stack grows down from here
	StackBase uint32 = 0x80000000
	// StackGuardPages is how far below the stack a fault still counts as stack growth
	StackGuardPages uint32 = 10
	// MaxStackPages bounds the user stack
	MaxStackPages = 10
)

var (
	ErrNoMemory = errors.New("out of physical memory")
	ErrBadAddr  = errors.New("bad address")
)

// Pte is the per-page mapping metadata
type Pte struct {
	Present  bool
	Writable bool
	// Cow marks a page shared after fork that must be copied before the first write
	Cow          bool
	OrigWritable bool
	Ppn          uint32
}

// Region is a contiguous run of pages starting at Start
type Region struct {
	Start uint32
	Pages []Pte
}

func (r *Region) end() uint32 {
	return r.Start + uint32(len(r.Pages))*PGSIZE
}

func (r *Region) contains(va uint32) bool {
	return va >= r.Start && va < r.end()
}

func (r *Region) pte(va uint32) *Pte {
	if !r.contains(va) {
		return nil
	}
	return &r.Pages[(va-r.Start)/PGSIZE]
}

// Space is a user address space: code and heap growing up from 0, and a
// stack growing down from StackBase
type Space struct {
	mu    sync.Mutex
	pm    *Physmem
	code  Region
	heap  Region
	stack Region
	// installs counts page table reloads
	installs uint64
}

// NewSpace creates an address space holding code, a read-only text region,
// and a one page stack
func NewSpace(pm *Physmem, code []byte) (*Space, error) {
	s := &Space{pm: pm}
	npages := (uint32(len(code)) + PGSIZE - 1) / PGSIZE
	for i := uint32(0); i < npages; i++ {
		ppn, ok := pm.Alloc()
		if !ok {
			s.Free()
			return nil, ErrNoMemory
		}
		copy(pm.Dmap(ppn), code[i*PGSIZE:])
		s.code.Pages = append(s.code.Pages, Pte{Present: true, Ppn: ppn})
	}
	s.heap.Start = s.code.end()
	ppn, ok := pm.Alloc()
	if !ok {
		s.Free()
		return nil, ErrNoMemory
	}
	s.stack = Region{
		Start: StackBase - PGSIZE,
		Pages: []Pte{{Present: true, Writable: true, Ppn: ppn}},
	}
	s.install()
	return s, nil
}

// Sbrk grows the heap by n pages of zeroed, writable memory and returns the old break
func (s *Space) Sbrk(n int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	brk := s.heap.end()
	if uint64(brk)+uint64(n)*uint64(PGSIZE) > uint64(StackBase-StackGuardPages*PGSIZE) {
		return 0, fmt.Errorf("%w: heap would reach the stack", ErrBadAddr)
	}
	pages := make([]Pte, 0, n)
	for i := 0; i < n; i++ {
		ppn, ok := s.pm.Alloc()
		if !ok {
			for _, pte := range pages {
				s.pm.Refdown(pte.Ppn)
			}
			return 0, ErrNoMemory
		}
		pages = append(pages, Pte{Present: true, Writable: true, Ppn: ppn})
	}
	s.heap.Pages = append(s.heap.Pages, pages...)
	s.install()
	return brk, nil
}

// lookup finds the page for va in any region. Called with s.mu held.
func (s *Space) lookup(va uint32) *Pte {
	for _, r := range []*Region{&s.code, &s.heap, &s.stack} {
		if pte := r.pte(va); pte != nil {
			return pte
		}
	}
	return nil
}

// Lookup returns a copy of the mapping for va
func (s *Space) Lookup(va uint32) (Pte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pte := s.lookup(va)
	if pte == nil {
		return Pte{}, false
	}
	return *pte, true
}

// Translate returns the bytes from va to the end of its page, as the MMU
// would. A miss returns the hardware error bits for the fault.
func (s *Space) Translate(va uint32, write bool) ([]byte, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bits := FaultUser
	if write {
		bits |= FaultWrite
	}
	pte := s.lookup(va)
	if pte == nil || !pte.Present {
		return nil, bits, false
	}
	if write && !pte.Writable {
		return nil, bits | FaultPresent, false
	}
	return s.pm.Dmap(pte.Ppn)[va%PGSIZE:], 0, true
}

// StackPages is the current size of the stack
func (s *Space) StackPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack.Pages)
}

// Installs is the number of times the page table has been reloaded
func (s *Space) Installs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installs
}

// install reloads the page table after a mapping change
func (s *Space) install() {
	s.installs++
}

// Fork copies the address space. Present pages are shared, and writable ones
// become read-only copy-on-write pages in both parent and child.
func (s *Space) Fork() *Space {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Space{pm: s.pm}
	for _, pair := range []struct{ dst, src *Region }{
		{&c.code, &s.code}, {&c.heap, &s.heap}, {&c.stack, &s.stack},
	} {
		pair.dst.Start = pair.src.Start
		pair.dst.Pages = make([]Pte, len(pair.src.Pages))
		for i := range pair.src.Pages {
			pte := &pair.src.Pages[i]
			if pte.Present {
				s.pm.Refup(pte.Ppn)
				if pte.Writable {
					pte.Writable = false
					pte.Cow = true
					pte.OrigWritable = true
				}
			}
			pair.dst.Pages[i] = *pte
		}
	}
	s.install()
	c.install()
	log.Debugf("vm: fork shared %d pages", len(s.code.Pages)+len(s.heap.Pages)+len(s.stack.Pages))
	return c
}

// Free drops every frame reference held by the address space
func (s *Space) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range []*Region{&s.code, &s.heap, &s.stack} {
		for i := range r.Pages {
			if r.Pages[i].Present {
				s.pm.Refdown(r.Pages[i].Ppn)
			}
		}
		r.Pages = nil
	}
}
