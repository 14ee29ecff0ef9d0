package xkfs

// readi copies file bytes starting at off into dst. ip must be locked by o.
// It returns the number of bytes read, which is 0 at or past the end of the file.
func (o *op) readi(ip *Inode, dst []byte, off uint32) int {
	if !o.holding(ip) {
		fatal("readi: inode %d is not locked", ip.inum)
	}
	if ip.typ == TypeDev {
		fatal("readi: inode %d is a device", ip.inum)
	}
	if off >= ip.size {
		return 0
	}
	n := min(uint32(len(dst)), ip.size-off)

	b := make([]byte, BlockSize)
	var done uint32
	for done < n {
		pb, ok := ip.owned().findBlock(off / BlockSize)
		if !ok {
			fatal("readi: inode %d has no block for offset %d below size %d", ip.inum, off, ip.size)
		}
		o.fs.log.read(pb, b)
		m := uint32(copy(dst[done:n], b[off%BlockSize:]))
		done += m
		off += m
	}
	return int(done)
}

// writei writes src at off inside the open transaction. ip must be locked by o.
// When the existing extents run out, one new extent is allocated sized for
// reserve bytes from the current offset, so a large write split across several
// transactions still lands in one extent.
func (o *op) writei(ip *Inode, src []byte, off uint32, reserve uint32) int {
	if !o.holding(ip) {
		fatal("writei: inode %d is not locked", ip.inum)
	}
	if ip.typ == TypeDev {
		fatal("writei: inode %d is a device", ip.inum)
	}
	n := uint32(len(src))
	if n == 0 {
		return 0
	}
	end := off + n
	reserve = max(reserve, n)

	b := make([]byte, BlockSize)
	var done uint32
	for done < n {
		pb, ok := ip.owned().findBlock(off / BlockSize)
		if !ok {
			o.grow(ip, off, reserve-done)
			continue
		}
		o.fs.log.read(pb, b)
		m := uint32(copy(b[off%BlockSize:], src[done:]))
		o.fs.log.write(pb, b)
		done += m
		off += m
	}

	if end > ip.size {
		ip.size = end
		o.updateDinode(ip)
	}
	return int(done)
}

// grow appends one extent covering any gap up to off plus the blocks for
// remaining bytes from off
func (o *op) grow(ip *Inode, off, remaining uint32) {
	if ip.numExtents >= MaxExtents {
		fatal("writei: inode %d used up all %d extents", ip.inum, MaxExtents)
	}
	have := ip.owned().blockCount()
	pad := off/BlockSize - have
	data := (off%BlockSize + remaining + BlockSize - 1) / BlockSize
	start := o.fs.alloc.alloc(pad + data)
	ip.extents[ip.numExtents] = extent{start: start, nblocks: pad + data}
	ip.numExtents++
}

// updateDinode writes ip's record into the inode file. Called with ip locked
// and inside a transaction.
func (o *op) updateDinode(ip *Inode) {
	inodeFile := &o.fs.cache.inodeFile
	held := o.holding(inodeFile)
	if !held {
		o.lock(inodeFile)
	}
	o.writei(inodeFile, ip.dinode().toBytes(), ip.inum*DinodeSize, DinodeSize)
	if !held {
		o.unlock(inodeFile)
	}
}
