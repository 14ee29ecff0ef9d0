// Package xkfs implements an extent based file system with a write-ahead log.
//
// Disk layout, in blocks of BlockSize bytes:
//
//	[ boot | superblock | free bitmap | log header | log slots | inode file + data ]
//
// The inode file (inode 0) is an ordinary inode whose content is the packed
// array of on-disk inodes. Its own record lives at offset 0 of its first
// extent, which is how it is found at mount time. Inode 1 is the root directory.
//
// Every structural mutation runs inside a single system-wide transaction. Data
// and metadata blocks are both logged, so a crash either loses the whole
// transaction or is completed by recovery at the next mount.
package xkfs

import (
	"errors"
	"fmt"
	"math"

	"github.com/diskfs/go-xkfs/backend"
	log "github.com/sirupsen/logrus"
)

const (
	// BlockSize is the size of every file system block
	BlockSize uint32 = backend.BlockSize
	// BitsPerBlock is how many blocks one bitmap block tracks
	BitsPerBlock uint32 = BlockSize * 8

	// InodeFileIno is the inode number of the inode file
	InodeFileIno uint32 = 0
	// RootIno is the inode number of the root directory
	RootIno uint32 = 1
	// RootDev is the device id of the only mounted device
	RootDev uint32 = 1

	// MaxExtents is how many extents one inode can own. A file that needs more is a fatal error.
	MaxExtents int = 30
	// DinodeSize is the size of an on-disk inode record
	DinodeSize uint32 = 256
	// DirNameSize is the fixed length of a name in a directory entry
	DirNameSize int = 14
	// DirentSize is the size of a directory entry
	DirentSize uint32 = 16

	// DefaultLogCapacity is the number of block slots in the log region
	DefaultLogCapacity uint32 = 29
	// DefaultCacheSize is the number of in-memory inode slots
	DefaultCacheSize int = 50
	// DefaultInodeBlocks is the number of blocks given to the inode file by mkfs
	DefaultInodeBlocks uint32 = 16

	bootBlock       uint32 = 0
	superblockBlock uint32 = 1
	bitmapStart     uint32 = 2

	dinodeUsed  int16 = 1
	dinodeAvail int16 = 0
)

// FileType is the type tag of an inode
type FileType int16

const (
	TypeNone FileType = 0
	TypeDir  FileType = 1
	TypeFile FileType = 2
	TypeDev  FileType = 3
)

func (t FileType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	case TypeDev:
		return "dev"
	case TypeNone:
		return "none"
	default:
		return fmt.Sprintf("type(%d)", int16(t))
	}
}

var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrNotDir       = errors.New("not a directory")
	ErrExists       = errors.New("file exists")
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidRange = errors.New("offset out of range")
	ErrNoDevice     = errors.New("no such device")
	ErrRootDir      = errors.New("cannot delete the root directory")
)

// Stat is the metadata reported for an inode
type Stat struct {
	Dev  uint32
	Ino  uint32
	Type FileType
	Size uint32
}

// FileSystem is a mounted xkfs image
type FileSystem struct {
	dev     backend.Storage
	sb      *superblock
	log     *wal
	alloc   *allocator
	cache   *inodeCache
	devices *Devices
	// maxOpBlocks bounds the data blocks a single write transaction may touch
	maxOpBlocks uint32
}

// MountOpt configures a mount
type MountOpt func(*mountOptions)

type mountOptions struct {
	cacheSize int
	devices   *Devices
}

// WithCacheSize sets the number of in-memory inode slots
func WithCacheSize(n int) MountOpt {
	return func(o *mountOptions) {
		o.cacheSize = n
	}
}

// WithDevices sets the device switch used for device inodes
func WithDevices(d *Devices) MountOpt {
	return func(o *mountOptions) {
		o.devices = d
	}
}

// Mount reads the superblock, recovers the log and loads the inode file.
// Recovery runs before any other file system activity.
func Mount(dev backend.Storage, opts ...MountOpt) (*FileSystem, error) {
	mo := mountOptions{
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(&mo)
	}
	if mo.cacheSize <= 0 {
		return nil, fmt.Errorf("invalid inode cache size %d", mo.cacheSize)
	}
	if mo.devices == nil {
		mo.devices = NewDevices()
	}

	b := make([]byte, BlockSize)
	if err := dev.ReadBlock(superblockBlock, b); err != nil {
		return nil, fmt.Errorf("could not read superblock: %w", err)
	}
	sb, err := superblockFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	if sb.size > dev.Blocks() {
		return nil, fmt.Errorf("superblock size %d is larger than the device's %d blocks", sb.size, dev.Blocks())
	}
	log.Infof("sb: size %d nblocks %d bmap start %d inodestart %d logstart %d", sb.size, sb.nblocks, sb.bmapstart, sb.inodestart, sb.logstart)

	fs := &FileSystem{
		dev:     dev,
		sb:      sb,
		devices: mo.devices,
	}
	fs.log = newWAL(dev, sb.logstart, sb.logCapacity())
	replayed, err := fs.log.recover()
	if err != nil {
		return nil, fmt.Errorf("log recovery failed: %w", err)
	}
	if replayed > 0 {
		log.Infof("log: recovered %d blocks", replayed)
	}
	fs.alloc = newAllocator(fs.log, sb.bmapstart, sb.size)
	fs.cache = newInodeCache(mo.cacheSize)
	if err := fs.initInodeFile(); err != nil {
		return nil, err
	}

	// a chunk may straddle one extra data block; the bitmap and inode file blocks are the rest
	if sb.logCapacity() < 5 {
		return nil, fmt.Errorf("log capacity %d is too small", sb.logCapacity())
	}
	fs.maxOpBlocks = sb.logCapacity() - 4
	return fs, nil
}

// initInodeFile bootstraps inode 0 from the first record of its first block
func (fs *FileSystem) initInodeFile() error {
	b := make([]byte, BlockSize)
	fs.log.read(fs.sb.inodestart, b)
	d, err := dinodeFromBytes(b[:DinodeSize])
	if err != nil {
		return fmt.Errorf("could not interpret inode file record: %w", err)
	}
	if d.used != dinodeUsed || d.numExtents < 1 || d.extents[0].start != fs.sb.inodestart {
		return fmt.Errorf("inode file record is corrupt: used %d extents %d start %d", d.used, d.numExtents, d.extents[0].start)
	}
	ip := &fs.cache.inodeFile
	ip.dev = RootDev
	ip.inum = InodeFileIno
	ip.ref = 1
	ip.setDinode(d)
	ip.valid = true
	return nil
}

// Devices returns the device switch consulted for device inodes
func (fs *FileSystem) Devices() *Devices {
	return fs.devices
}

// Root returns a new reference to the root directory
func (fs *FileSystem) Root() *Inode {
	return fs.cache.get(RootDev, RootIno)
}

// Dup adds a reference to ip
func (fs *FileSystem) Dup(ip *Inode) *Inode {
	return fs.cache.dup(ip)
}

// Release drops one reference to ip
func (fs *FileSystem) Release(ip *Inode) {
	fs.cache.release(ip)
}

// Refs is the number of outstanding references to ip
func (fs *FileSystem) Refs(ip *Inode) int {
	return fs.cache.refs(ip)
}

// InUse is the number of inode cache slots currently referenced
func (fs *FileSystem) InUse() int {
	return fs.cache.inUse()
}

// FreeBlocks counts the unallocated blocks in the bitmap
func (fs *FileSystem) FreeBlocks() uint32 {
	return fs.alloc.freeCount()
}

// UUID is the volume identifier written by mkfs
func (fs *FileSystem) UUID() string {
	return fs.sb.uuid.String()
}

// Geometry is the layout recorded in the superblock
type Geometry struct {
	Size        uint32
	DataBlocks  uint32
	BitmapStart uint32
	LogStart    uint32
	LogCapacity uint32
	InodeStart  uint32
}

// Geometry reports the file system layout
func (fs *FileSystem) Geometry() Geometry {
	return Geometry{
		Size:        fs.sb.size,
		DataBlocks:  fs.sb.nblocks,
		BitmapStart: fs.sb.bmapstart,
		LogStart:    fs.sb.logstart,
		LogCapacity: fs.sb.logCapacity(),
		InodeStart:  fs.sb.inodestart,
	}
}

// Stat returns the metadata of ip
func (fs *FileSystem) Stat(ip *Inode) Stat {
	o := fs.newOp()
	o.lock(ip)
	defer o.unlock(ip)
	return ip.stat()
}

// ReadAt reads up to len(dst) bytes at offset off. Reading at or past the end
// of the file returns 0 bytes. Device inodes read from their device and ignore off.
func (fs *FileSystem) ReadAt(ip *Inode, dst []byte, off uint32) (int, error) {
	o := fs.newOp()
	o.lock(ip)
	defer o.unlock(ip)
	if ip.typ == TypeDev {
		d, err := fs.devices.lookup(ip.devid)
		if err != nil {
			return 0, err
		}
		return d.Read(dst)
	}
	return o.readi(ip, dst, off), nil
}

// WriteAt writes src at offset off, growing the file as needed. Large writes
// are split into several transactions that each fit in the log.
func (fs *FileSystem) WriteAt(ip *Inode, src []byte, off uint32) (int, error) {
	o := fs.newOp()
	o.lock(ip)
	if ip.typ == TypeDev {
		defer o.unlock(ip)
		d, err := fs.devices.lookup(ip.devid)
		if err != nil {
			return 0, err
		}
		return d.Write(src)
	}
	o.unlock(ip)

	if uint64(off)+uint64(len(src)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: write of %d bytes at %d", ErrInvalidRange, len(src), off)
	}

	maxChunk := int(fs.maxOpBlocks * BlockSize)
	written := 0
	for written < len(src) {
		chunk := min(len(src)-written, maxChunk)
		fs.log.begin()
		o.lock(ip)
		n := o.writei(ip, src[written:written+chunk], off+uint32(written), uint32(len(src)-written))
		fs.log.commit()
		o.unlock(ip)
		written += n
	}
	return written, nil
}

// Close releases the underlying device
func (fs *FileSystem) Close() error {
	return fs.dev.Close()
}

// fatal logs and panics on a broken file system invariant
func fatal(format string, args ...interface{}) {
	log.Panicf(format, args...)
}
