// Package vm models user address spaces over a pool of reference counted
// physical frames, and handles the page faults that grow the user stack and
// break copy-on-write sharing.
package vm

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// PGSIZE is the size of a page and of a physical frame
	PGSIZE uint32 = 4096
	// DefaultFrames is the number of physical frames when Config leaves it unset
	DefaultFrames = 1024
)

// Config sizes the physical memory pool
type Config struct {
	Frames int
}

// Physmem is the frame table. A frame returns to the free pool when its
// reference count drops to zero.
type Physmem struct {
	mu     sync.Mutex
	frames [][]byte
	refs   []int32
	free   []uint32
}

// NewPhysmem creates a frame table. A nil cfg takes the defaults.
func NewPhysmem(cfg *Config) *Physmem {
	n := DefaultFrames
	if cfg != nil && cfg.Frames > 0 {
		n = cfg.Frames
	}
	pm := &Physmem{
		frames: make([][]byte, n),
		refs:   make([]int32, n),
		free:   make([]uint32, 0, n),
	}
	// hand out low frames first
	for i := n - 1; i >= 0; i-- {
		pm.free = append(pm.free, uint32(i))
	}
	return pm
}

func (pm *Physmem) check(ppn uint32) {
	if int(ppn) >= len(pm.refs) {
		log.Panicf("physmem: frame %d out of range", ppn)
	}
}

// alloc takes a zeroed frame with one reference. Called with pm.mu held.
func (pm *Physmem) alloc() (uint32, bool) {
	if len(pm.free) == 0 {
		return 0, false
	}
	ppn := pm.free[len(pm.free)-1]
	pm.free = pm.free[:len(pm.free)-1]
	if pm.frames[ppn] == nil {
		pm.frames[ppn] = make([]byte, PGSIZE)
	} else {
		clear(pm.frames[ppn])
	}
	pm.refs[ppn] = 1
	return ppn, true
}

// Alloc takes a zeroed frame with one reference, or returns false when memory is exhausted
func (pm *Physmem) Alloc() (uint32, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.alloc()
}

// Refup adds a reference to an allocated frame
func (pm *Physmem) Refup(ppn uint32) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.check(ppn)
	if pm.refs[ppn] < 1 {
		log.Panicf("physmem: refup of free frame %d", ppn)
	}
	pm.refs[ppn]++
}

func (pm *Physmem) refdown(ppn uint32) bool {
	pm.check(ppn)
	if pm.refs[ppn] < 1 {
		log.Panicf("physmem: refdown of free frame %d", ppn)
	}
	pm.refs[ppn]--
	if pm.refs[ppn] == 0 {
		pm.free = append(pm.free, ppn)
		return true
	}
	return false
}

// Refdown drops a reference and reports whether the frame was freed
func (pm *Physmem) Refdown(ppn uint32) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.refdown(ppn)
}

// Refcnt is the current reference count of a frame
func (pm *Physmem) Refcnt(ppn uint32) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.check(ppn)
	return int(pm.refs[ppn])
}

// Dmap returns the contents of a frame
func (pm *Physmem) Dmap(ppn uint32) []byte {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.check(ppn)
	if pm.refs[ppn] < 1 {
		log.Panicf("physmem: dmap of free frame %d", ppn)
	}
	return pm.frames[ppn]
}

// FreeFrames is the number of unallocated frames
func (pm *Physmem) FreeFrames() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.free)
}

// claim gives the caller a frame it can write. A frame with other sharers is
// copied into a new one and the old reference dropped; an exclusive frame is
// returned as is.
func (pm *Physmem) claim(ppn uint32) (uint32, bool, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.check(ppn)
	switch ref := pm.refs[ppn]; {
	case ref < 1:
		return 0, false, fmt.Errorf("frame %d is free", ppn)
	case ref == 1:
		return ppn, false, nil
	}
	n, ok := pm.alloc()
	if !ok {
		return 0, false, fmt.Errorf("out of frames copying frame %d", ppn)
	}
	copy(pm.frames[n], pm.frames[ppn])
	pm.refdown(ppn)
	return n, true, nil
}
