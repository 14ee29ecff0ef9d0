package xkfs

import (
	"encoding/binary"
	"fmt"
)

const (
	extentLength = 8
	dinodeHeader = 12
)

// extents a slice of the extents owned by one inode, in file order
type extents []extent

// extent a contiguous run of disk blocks holding file data
type extent struct {
	// start the first block on disk covered by the extent
	start uint32
	// nblocks how many contiguous blocks the extent covers
	nblocks uint32
}

// blockCount how many blocks are covered in the extents
func (e extents) blockCount() uint32 {
	var count uint32
	for _, ext := range e {
		count += ext.nblocks
	}
	return count
}

// findBlock maps a block index within the file to a disk block
func (e extents) findBlock(fileBlock uint32) (uint32, bool) {
	for _, ext := range e {
		if fileBlock < ext.nblocks {
			return ext.start + fileBlock, true
		}
		fileBlock -= ext.nblocks
	}
	return 0, false
}

// dinode is the 256 byte on-disk inode record
type dinode struct {
	typ        FileType
	devid      int16
	size       uint32
	used       int16
	numExtents int16
	extents    [MaxExtents]extent
}

func (d *dinode) toBytes() []byte {
	b := make([]byte, DinodeSize)
	putInt16(b[0x0:0x2], int16(d.typ))
	putInt16(b[0x2:0x4], d.devid)
	binary.LittleEndian.PutUint32(b[0x4:0x8], d.size)
	putInt16(b[0x8:0xa], d.used)
	putInt16(b[0xa:0xc], d.numExtents)
	for i, e := range d.extents {
		off := dinodeHeader + i*extentLength
		binary.LittleEndian.PutUint32(b[off:off+4], e.start)
		binary.LittleEndian.PutUint32(b[off+4:off+8], e.nblocks)
	}
	return b
}

func dinodeFromBytes(b []byte) (*dinode, error) {
	if len(b) < int(DinodeSize) {
		return nil, fmt.Errorf("inode record is %d bytes, need %d", len(b), DinodeSize)
	}
	d := dinode{}
	var (
		typ    int16
		offset int
		err    error
	)
	if offset, err = toInt16(b, offset, &typ); err != nil {
		return nil, fmt.Errorf("failed to deserialize type: %w", err)
	}
	d.typ = FileType(typ)
	if offset, err = toInt16(b, offset, &d.devid); err != nil {
		return nil, fmt.Errorf("failed to deserialize device id: %w", err)
	}
	if offset, err = toUint32(b, offset, &d.size); err != nil {
		return nil, fmt.Errorf("failed to deserialize size: %w", err)
	}
	if offset, err = toInt16(b, offset, &d.used); err != nil {
		return nil, fmt.Errorf("failed to deserialize used flag: %w", err)
	}
	if offset, err = toInt16(b, offset, &d.numExtents); err != nil {
		return nil, fmt.Errorf("failed to deserialize extent count: %w", err)
	}
	if d.numExtents < 0 || int(d.numExtents) > MaxExtents {
		return nil, fmt.Errorf("extent count %d out of range", d.numExtents)
	}
	for i := range d.extents {
		if offset, err = toUint32(b, offset, &d.extents[i].start); err != nil {
			return nil, fmt.Errorf("failed to deserialize extent %d: %w", i, err)
		}
		if offset, err = toUint32(b, offset, &d.extents[i].nblocks); err != nil {
			return nil, fmt.Errorf("failed to deserialize extent %d: %w", i, err)
		}
	}
	return &d, nil
}
