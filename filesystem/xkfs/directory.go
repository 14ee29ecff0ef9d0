package xkfs

import (
	"slices"
)

// directoryEntries is the decoded content of a directory along with the byte
// offset of each entry
type directoryEntries struct {
	entries []*directoryEntry
	offsets []uint32
}

// find returns the index of the live entry called name, or -1
func (d *directoryEntries) find(name string) int {
	return slices.IndexFunc(d.entries, func(e *directoryEntry) bool {
		return !e.free() && namesEqual(e.filename, name)
	})
}

// firstFree returns the offset of the first free entry, or the end of the directory
func (d *directoryEntries) firstFree(size uint32) uint32 {
	for i, e := range d.entries {
		if e.free() {
			return d.offsets[i]
		}
	}
	return size
}

// readDirectory decodes every entry of dp, which must be locked by o
func (o *op) readDirectory(dp *Inode) *directoryEntries {
	if dp.typ != TypeDir {
		fatal("dirlookup: inode %d is not a directory", dp.inum)
	}
	if dp.size%DirentSize != 0 {
		fatal("dirlookup: directory %d has partial entry, size %d", dp.inum, dp.size)
	}
	b := make([]byte, dp.size)
	if n := o.readi(dp, b, 0); n != len(b) {
		fatal("dirlookup: short read of directory %d, %d of %d bytes", dp.inum, n, len(b))
	}
	d := &directoryEntries{}
	for off := uint32(0); off < dp.size; off += DirentSize {
		de, err := directoryEntryFromBytes(b[off : off+DirentSize])
		if err != nil {
			fatal("dirlookup: directory %d offset %d: %v", dp.inum, off, err)
		}
		d.entries = append(d.entries, de)
		d.offsets = append(d.offsets, off)
	}
	return d
}

// dirLookup looks name up in dp, which must be locked by o. It returns a new,
// unlocked reference and the entry's byte offset, or nil if there is no such entry.
func (o *op) dirLookup(dp *Inode, name string) (*Inode, uint32) {
	d := o.readDirectory(dp)
	i := d.find(name)
	if i < 0 {
		return nil, 0
	}
	return o.fs.cache.get(dp.dev, uint32(d.entries[i].inum)), d.offsets[i]
}
