package xkfs

import (
	"sync"
)

// Inode is the in-memory copy of an inode. The cache fields are guarded by
// the cache lock, the rest by the inode's own lock.
type Inode struct {
	mu sync.Mutex

	dev  uint32
	inum uint32
	ref  int

	valid      bool
	typ        FileType
	devid      int16
	size       uint32
	used       int16
	numExtents int
	extents    [MaxExtents]extent
}

// Inum is the inode number
func (ip *Inode) Inum() uint32 {
	return ip.inum
}

// Dev is the device the inode lives on
func (ip *Inode) Dev() uint32 {
	return ip.dev
}

func (ip *Inode) setDinode(d *dinode) {
	ip.typ = d.typ
	ip.devid = d.devid
	ip.size = d.size
	ip.used = d.used
	ip.numExtents = int(d.numExtents)
	ip.extents = d.extents
}

func (ip *Inode) dinode() *dinode {
	return &dinode{
		typ:        ip.typ,
		devid:      ip.devid,
		size:       ip.size,
		used:       ip.used,
		numExtents: int16(ip.numExtents),
		extents:    ip.extents,
	}
}

func (ip *Inode) owned() extents {
	return extents(ip.extents[:ip.numExtents])
}

func (ip *Inode) stat() Stat {
	return Stat{
		Dev:  ip.dev,
		Ino:  ip.inum,
		Type: ip.typ,
		Size: ip.size,
	}
}

// inodeCache is a fixed pool of inodes. The inode file is held outside the pool
// and is never evicted.
type inodeCache struct {
	mu        sync.Mutex
	inodes    []Inode
	inodeFile Inode
}

func newInodeCache(n int) *inodeCache {
	return &inodeCache{
		inodes: make([]Inode, n),
	}
}

// get returns a referenced, possibly unloaded, inode for (dev, inum)
func (c *inodeCache) get(dev, inum uint32) *Inode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inum == InodeFileIno {
		c.inodeFile.ref++
		return &c.inodeFile
	}
	var empty *Inode
	for i := range c.inodes {
		ip := &c.inodes[i]
		if ip.ref > 0 && ip.dev == dev && ip.inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		fatal("iget: no inodes, all %d slots referenced", len(c.inodes))
	}
	empty.dev = dev
	empty.inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

func (c *inodeCache) dup(ip *Inode) *Inode {
	c.mu.Lock()
	defer c.mu.Unlock()
	ip.ref++
	return ip
}

// release drops a reference. Dropping the last one clears the type so a
// later get reloads the inode from disk.
func (c *inodeCache) release(ip *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ip.ref < 1 {
		fatal("irelease: inode %d has no references", ip.inum)
	}
	if ip.ref == 1 && ip != &c.inodeFile {
		ip.typ = TypeNone
		ip.valid = false
	}
	ip.ref--
}

func (c *inodeCache) refs(ip *Inode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ip.ref
}

func (c *inodeCache) inUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.inodes {
		if c.inodes[i].ref > 0 {
			n++
		}
	}
	return n
}

// op tracks the inode locks taken by one file system call, which lets a call
// that already holds the inode file use it again without deadlocking.
type op struct {
	fs   *FileSystem
	held []*Inode
}

func (fs *FileSystem) newOp() *op {
	return &op{fs: fs}
}

func (o *op) holding(ip *Inode) bool {
	for _, h := range o.held {
		if h == ip {
			return true
		}
	}
	return false
}

// lock takes ip's sleep lock, loading it from the inode file if needed
func (o *op) lock(ip *Inode) {
	if ip == nil || o.fs.cache.refs(ip) < 1 {
		fatal("locki: inode has no references")
	}
	if o.holding(ip) {
		fatal("locki: inode %d already locked by this operation", ip.inum)
	}
	ip.mu.Lock()
	o.held = append(o.held, ip)
	if !ip.valid {
		o.load(ip)
	}
}

func (o *op) unlock(ip *Inode) {
	for i, h := range o.held {
		if h == ip {
			o.held = append(o.held[:i], o.held[i+1:]...)
			ip.mu.Unlock()
			return
		}
	}
	fatal("unlocki: inode %d is not locked", ip.inum)
}

// load reads ip's record from the inode file. ip must be locked.
func (o *op) load(ip *Inode) {
	inodeFile := &o.fs.cache.inodeFile
	if ip == inodeFile {
		fatal("locki: inode file is not loaded")
	}
	held := o.holding(inodeFile)
	if !held {
		o.lock(inodeFile)
	}
	b := make([]byte, DinodeSize)
	n := o.readi(inodeFile, b, ip.inum*DinodeSize)
	if !held {
		o.unlock(inodeFile)
	}
	if n != int(DinodeSize) {
		fatal("locki: inode %d is past the end of the inode file", ip.inum)
	}
	d, err := dinodeFromBytes(b)
	if err != nil {
		fatal("locki: inode %d: %v", ip.inum, err)
	}
	if d.typ == TypeNone {
		fatal("locki: inode %d has no type", ip.inum)
	}
	ip.setDinode(d)
	ip.valid = true
}
