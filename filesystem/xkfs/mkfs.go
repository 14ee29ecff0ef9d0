package xkfs

import (
	"fmt"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Params are the parameters for formatting a new file system. Zero values take defaults.
type Params struct {
	UUID        *uuid.UUID
	LogCapacity uint32
	InodeBlocks uint32
	// Files are placed in the root directory
	Files []InitialFile
}

// InitialFile is a file written into the root directory at format time
type InitialFile struct {
	Name  string
	Type  FileType
	Devid int16
	Data  []byte
}

// layout is where mkfs places each region
type layout struct {
	size       uint32
	nbitmap    uint32
	logstart   uint32
	inodestart uint32
}

func computeLayout(size, logCapacity uint32) layout {
	nbitmap := size/BitsPerBlock + 1
	logstart := bitmapStart + nbitmap
	return layout{
		size:       size,
		nbitmap:    nbitmap,
		logstart:   logstart,
		inodestart: logstart + 1 + logCapacity,
	}
}

// Create formats dev as an empty xkfs file system holding the initial files,
// then mounts it
func Create(dev backend.Storage, p *Params, opts ...MountOpt) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	logCapacity := p.LogCapacity
	if logCapacity == 0 {
		logCapacity = DefaultLogCapacity
	}
	if logCapacity < 5 || logCapacity > maxLogCapacity {
		return nil, fmt.Errorf("log capacity %d must be between 5 and %d", logCapacity, maxLogCapacity)
	}
	inodeBlocks := p.InodeBlocks
	if inodeBlocks == 0 {
		inodeBlocks = DefaultInodeBlocks
	}
	id := uuid.New()
	if p.UUID != nil {
		id = *p.UUID
	}

	lay := computeLayout(dev.Blocks(), logCapacity)
	ninodes := uint32(2 + len(p.Files))
	if ninodes*DinodeSize > inodeBlocks*BlockSize {
		return nil, fmt.Errorf("%d inodes do not fit in %d inode file blocks", ninodes, inodeBlocks)
	}

	// root entries: ".", "..", then one per file
	root := []directoryEntry{
		{inum: uint16(RootIno), filename: "."},
		{inum: uint16(RootIno), filename: ".."},
	}
	seen := map[string]bool{}
	for i, f := range p.Files {
		if err := validateName(f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: %q listed twice", ErrExists, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeFile, TypeDev:
		default:
			return nil, fmt.Errorf("initial file %q has unsupported type %v", f.Name, f.Type)
		}
		root = append(root, directoryEntry{inum: uint16(2 + i), filename: f.Name})
	}

	next := lay.inodestart + inodeBlocks
	place := func(nbytes uint32) extent {
		n := (nbytes + BlockSize - 1) / BlockSize
		e := extent{start: next, nblocks: n}
		next += n
		return e
	}

	dinodes := make([]dinode, ninodes)
	dinodes[InodeFileIno] = dinode{
		typ: TypeFile, used: dinodeUsed, size: ninodes * DinodeSize, numExtents: 1,
	}
	dinodes[InodeFileIno].extents[0] = extent{start: lay.inodestart, nblocks: inodeBlocks}

	rootBytes := make([]byte, 0, len(root)*int(DirentSize))
	for i := range root {
		rootBytes = append(rootBytes, root[i].toBytes()...)
	}
	dinodes[RootIno] = dinode{typ: TypeDir, used: dinodeUsed, size: uint32(len(rootBytes)), numExtents: 1}
	dinodes[RootIno].extents[0] = place(uint32(len(rootBytes)))

	for i, f := range p.Files {
		d := &dinodes[2+i]
		d.typ = f.Type
		d.devid = f.Devid
		d.used = dinodeUsed
		if f.Type == TypeFile && len(f.Data) > 0 {
			d.size = uint32(len(f.Data))
			d.numExtents = 1
			d.extents[0] = place(d.size)
		}
	}
	if next > lay.size {
		return nil, fmt.Errorf("image of %d blocks needs at least %d", lay.size, next)
	}

	sb := superblock{
		size:       lay.size,
		nblocks:    lay.size - lay.inodestart,
		bmapstart:  bitmapStart,
		inodestart: lay.inodestart,
		logstart:   lay.logstart,
		uuid:       id,
	}

	w := blockWriter{dev: dev}
	w.write(bootBlock, make([]byte, BlockSize))
	w.write(superblockBlock, sb.toBytes())
	for i := uint32(0); i < lay.nbitmap; i++ {
		bm := make([]byte, BlockSize)
		for bit := uint32(0); bit < BitsPerBlock; bit++ {
			if i*BitsPerBlock+bit < next {
				bm[bit/8] |= 1 << (bit % 8)
			}
		}
		w.write(bitmapStart+i, bm)
	}
	w.write(lay.logstart, (&logHeader{valid: logInvalid}).toBytes())

	inodeBytes := make([]byte, 0, ninodes*DinodeSize)
	for i := range dinodes {
		inodeBytes = append(inodeBytes, dinodes[i].toBytes()...)
	}
	w.writeExtent(dinodes[InodeFileIno].extents[0], inodeBytes)
	w.writeExtent(dinodes[RootIno].extents[0], rootBytes)
	for i, f := range p.Files {
		if d := dinodes[2+i]; d.numExtents > 0 {
			w.writeExtent(d.extents[0], f.Data)
		}
	}
	if w.err != nil {
		return nil, fmt.Errorf("could not write file system: %w", w.err)
	}
	log.Infof("mkfs: %d blocks, %d used, %d files, uuid %s", lay.size, next, len(p.Files), id)
	return Mount(dev, opts...)
}

// blockWriter writes raw blocks and keeps the first error
type blockWriter struct {
	dev backend.Storage
	err error
}

func (w *blockWriter) write(n uint32, b []byte) {
	if w.err != nil {
		return
	}
	w.err = w.dev.WriteBlock(n, b)
}

// writeExtent writes data across e, zero filling the last block
func (w *blockWriter) writeExtent(e extent, data []byte) {
	for i := uint32(0); i < e.nblocks; i++ {
		b := make([]byte, BlockSize)
		if start := i * BlockSize; start < uint32(len(data)) {
			copy(b, data[start:])
		}
		w.write(e.start+i, b)
	}
}
