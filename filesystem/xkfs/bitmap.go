package xkfs

import (
	"sync"
)

// allocator hands out runs of contiguous blocks from the free bitmap.
// All changes go through the log, so callers must be inside a transaction.
type allocator struct {
	mu    sync.Mutex
	log   *wal
	start uint32
	size  uint32
}

func newAllocator(l *wal, start, size uint32) *allocator {
	return &allocator{
		log:   l,
		start: start,
		size:  size,
	}
}

// bitmapBlock is the bitmap block holding the bit for block b
func (a *allocator) bitmapBlock(b uint32) uint32 {
	return b/BitsPerBlock + a.start
}

func isSet(bm []byte, bit uint32) bool {
	return bm[bit/8]&(1<<(bit%8)) != 0
}

// alloc finds the first run of n free blocks that lies within one bitmap
// block, marks it used and returns its first block. Running out of space is fatal.
func (a *allocator) alloc(n uint32) uint32 {
	if n < 1 {
		fatal("balloc: allocating %d blocks", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	bm := make([]byte, BlockSize)
	for base := uint32(0); base < a.size; base += BitsPerBlock {
		a.log.read(a.bitmapBlock(base), bm)
		run := uint32(0)
		for bi := uint32(0); bi < BitsPerBlock && base+bi < a.size; bi++ {
			if isSet(bm, bi) {
				run = 0
				continue
			}
			run++
			if run == n {
				first := bi + 1 - n
				a.mark(bm, base, first, bi+1, true)
				return base + first
			}
		}
	}
	fatal("balloc: out of blocks, no run of %d free blocks", n)
	return 0
}

// free releases n blocks starting at b. The run must not cross a bitmap
// block and every block in it must currently be allocated.
func (a *allocator) free(b, n uint32) {
	if n < 1 {
		fatal("bfree: freeing %d blocks", n)
	}
	if b+n > a.size {
		fatal("bfree: blocks %d-%d past the end of the file system", b, b+n-1)
	}
	if a.bitmapBlock(b) != a.bitmapBlock(b+n-1) {
		fatal("bfree: blocks %d-%d cross a bitmap block boundary", b, b+n-1)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	bm := make([]byte, BlockSize)
	base := b / BitsPerBlock * BitsPerBlock
	a.log.read(a.bitmapBlock(b), bm)
	a.mark(bm, base, b-base, b-base+n, false)
}

// mark sets or clears bits [from, to) of the bitmap block covering base and logs it
func (a *allocator) mark(bm []byte, base, from, to uint32, used bool) {
	for bi := from; bi < to; bi++ {
		m := byte(1 << (bi % 8))
		switch {
		case used:
			bm[bi/8] |= m
		case bm[bi/8]&m == 0:
			fatal("bfree: freeing free block %d", base+bi)
		default:
			bm[bi/8] &^= m
		}
	}
	a.log.write(a.bitmapBlock(base), bm)
}

// freeCount counts free blocks as currently visible to the log
func (a *allocator) freeCount() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	bm := make([]byte, BlockSize)
	var free uint32
	for base := uint32(0); base < a.size; base += BitsPerBlock {
		a.log.read(a.bitmapBlock(base), bm)
		for bi := uint32(0); bi < BitsPerBlock && base+bi < a.size; bi++ {
			if !isSet(bm, bi) {
				free++
			}
		}
	}
	return free
}
