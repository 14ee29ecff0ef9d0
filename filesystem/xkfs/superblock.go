package xkfs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	superblockSize = 36
)

// superblock describes the disk layout. All fields are block numbers or counts.
type superblock struct {
	size       uint32 // size of the file system image in blocks
	nblocks    uint32 // number of blocks past the metadata regions
	bmapstart  uint32
	inodestart uint32
	logstart   uint32
	uuid       uuid.UUID
}

func (sb *superblock) equal(o *superblock) bool {
	if (sb == nil && o != nil) || (o == nil && sb != nil) {
		return false
	}
	if sb == nil && o == nil {
		return true
	}
	return *sb == *o
}

// logCapacity is the number of slots between the log header and the inode file
func (sb *superblock) logCapacity() uint32 {
	return sb.inodestart - sb.logstart - 1
}

func (sb *superblock) toBytes() []byte {
	b := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], sb.size)
	binary.LittleEndian.PutUint32(b[0x4:0x8], sb.nblocks)
	binary.LittleEndian.PutUint32(b[0x8:0xc], sb.bmapstart)
	binary.LittleEndian.PutUint32(b[0xc:0x10], sb.inodestart)
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.logstart)
	copy(b[0x14:0x24], sb.uuid[:])
	return b
}

func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("cannot read superblock from %d bytes, need at least %d", len(b), superblockSize)
	}
	sb := superblock{}
	var (
		offset int
		err    error
	)
	for _, f := range []*uint32{&sb.size, &sb.nblocks, &sb.bmapstart, &sb.inodestart, &sb.logstart} {
		if offset, err = toUint32(b, offset, f); err != nil {
			return nil, err
		}
	}
	id, err := uuid.FromBytes(b[offset : offset+16])
	if err != nil {
		return nil, fmt.Errorf("unable to read volume uuid: %w", err)
	}
	sb.uuid = id

	switch {
	case sb.bmapstart != bitmapStart:
		return nil, fmt.Errorf("bitmap start %d, expected %d", sb.bmapstart, bitmapStart)
	case sb.logstart <= sb.bmapstart:
		return nil, fmt.Errorf("log start %d overlaps the bitmap at %d", sb.logstart, sb.bmapstart)
	case sb.logstart-sb.bmapstart < sb.size/BitsPerBlock+1:
		return nil, fmt.Errorf("bitmap of %d blocks cannot cover %d blocks", sb.logstart-sb.bmapstart, sb.size)
	case sb.inodestart <= sb.logstart+1:
		return nil, fmt.Errorf("inode start %d leaves no room for the log at %d", sb.inodestart, sb.logstart)
	case sb.size <= sb.inodestart:
		return nil, fmt.Errorf("size %d leaves no room for inodes at %d", sb.size, sb.inodestart)
	case sb.logCapacity() > maxLogCapacity:
		return nil, fmt.Errorf("log of %d slots does not fit one header block", sb.logCapacity())
	}
	return &sb, nil
}
