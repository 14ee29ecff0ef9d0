package xkfs

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Create makes an empty regular file called name in the root directory and
// returns a reference to it. The inode record and directory entry are written
// in one transaction.
func (fs *FileSystem) Create(name string) (*Inode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	fs.log.begin()
	o := fs.newOp()
	root := fs.cache.get(RootDev, RootIno)
	o.lock(root)

	if existing, _ := o.dirLookup(root, name); existing != nil {
		fs.log.commit()
		o.unlock(root)
		fs.cache.release(existing)
		fs.cache.release(root)
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}

	inum := o.allocDinode(TypeFile, 0)
	ip := fs.cache.get(RootDev, inum)
	o.lock(ip)

	d := o.readDirectory(root)
	de := directoryEntry{inum: uint16(inum), filename: name}
	o.writei(root, de.toBytes(), d.firstFree(root.size), DirentSize)

	fs.log.commit()
	o.unlock(ip)
	o.unlock(root)
	fs.cache.release(root)
	log.Debugf("create: %q is inode %d", name, inum)
	return ip, nil
}

// allocDinode claims the first free record of the inode file, appending one if
// none is free, and returns its inode number
func (o *op) allocDinode(typ FileType, devid int16) uint32 {
	inodeFile := &o.fs.cache.inodeFile
	o.lock(inodeFile)
	defer o.unlock(inodeFile)

	count := inodeFile.size / DinodeSize
	inum := count
	b := make([]byte, DinodeSize)
	for i := uint32(1); i < count; i++ {
		o.readi(inodeFile, b, i*DinodeSize)
		d, err := dinodeFromBytes(b)
		if err != nil {
			fatal("ialloc: inode %d: %v", i, err)
		}
		if d.used == dinodeAvail {
			inum = i
			break
		}
	}
	if inum > 0xffff {
		fatal("ialloc: inode %d does not fit a directory entry", inum)
	}
	d := dinode{typ: typ, devid: devid, used: dinodeUsed}
	o.writei(inodeFile, d.toBytes(), inum*DinodeSize, DinodeSize)
	return inum
}

// Delete removes the file ip from the root directory, frees its record and
// blocks, and consumes the caller's reference. It runs as one transaction.
func (fs *FileSystem) Delete(ip *Inode) error {
	if ip.inum == RootIno || ip.inum == InodeFileIno {
		return fmt.Errorf("%w: inode %d", ErrRootDir, ip.inum)
	}
	fs.log.begin()
	o := fs.newOp()
	root := fs.cache.get(RootDev, RootIno)
	o.lock(root)
	o.lock(ip)

	d := o.readDirectory(root)
	blank := (&directoryEntry{}).toBytes()
	for i, e := range d.entries {
		if !e.free() && uint32(e.inum) == ip.inum {
			o.writei(root, blank, d.offsets[i], DirentSize)
		}
	}

	inodeFile := &fs.cache.inodeFile
	o.lock(inodeFile)
	o.writei(inodeFile, (&dinode{used: dinodeAvail}).toBytes(), ip.inum*DinodeSize, DinodeSize)
	o.unlock(inodeFile)

	for _, e := range ip.owned() {
		fs.alloc.free(e.start, e.nblocks)
	}
	inum := ip.inum
	ip.valid = false
	ip.typ = TypeNone
	ip.size = 0
	ip.used = dinodeAvail
	ip.numExtents = 0

	fs.log.commit()
	o.unlock(ip)
	o.unlock(root)
	fs.cache.release(ip)
	fs.cache.release(root)
	log.Debugf("delete: freed inode %d", inum)
	return nil
}
