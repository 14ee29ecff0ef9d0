package backend

import (
	"fmt"
	"sync"
)

// RAMDisk is a Storage kept entirely in memory. It is what tests mount and what
// the image tools use to stage a snapshot.
type RAMDisk struct {
	mu     sync.Mutex
	data   []byte
	blocks uint32
	writes int
}

// NewRAMDisk creates a zero filled disk with the given number of blocks
func NewRAMDisk(blocks uint32) *RAMDisk {
	return &RAMDisk{
		data:   make([]byte, int(blocks)*BlockSize),
		blocks: blocks,
	}
}

// RAMDiskFromBytes wraps an existing image. The length must be a multiple of BlockSize.
func RAMDiskFromBytes(b []byte) (*RAMDisk, error) {
	if len(b)%BlockSize != 0 {
		return nil, fmt.Errorf("image of %d bytes is not a multiple of the block size %d", len(b), BlockSize)
	}
	return &RAMDisk{
		data:   b,
		blocks: uint32(len(b) / BlockSize),
	}, nil
}

func (r *RAMDisk) ReadBlock(n uint32, b []byte) error {
	if err := checkBlock(r, n, b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := int(n) * BlockSize
	copy(b, r.data[start:start+BlockSize])
	return nil
}

func (r *RAMDisk) WriteBlock(n uint32, b []byte) error {
	if err := checkBlock(r, n, b); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := int(n) * BlockSize
	copy(r.data[start:start+BlockSize], b)
	r.writes++
	return nil
}

func (r *RAMDisk) Blocks() uint32 {
	return r.blocks
}

// Writes reports how many block writes the disk has absorbed
func (r *RAMDisk) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Bytes returns a copy of the whole image
func (r *RAMDisk) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, len(r.data))
	copy(b, r.data)
	return b
}

func (r *RAMDisk) Close() error {
	return nil
}
