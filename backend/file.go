package backend

import (
	"fmt"
	"os"
	"sync"
)

// FileDisk is a Storage backed by an image file or a host block device.
type FileDisk struct {
	mu     sync.Mutex
	file   *os.File
	blocks uint32
	// sync forces every write to stable storage before WriteBlock returns
	sync bool
}

// CreateFile creates (or truncates) an image file holding the given number of blocks
func CreateFile(path string, blocks uint32) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not create image %s: %w", path, err)
	}
	if err := f.Truncate(int64(blocks) * BlockSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not size image %s: %w", path, err)
	}
	return &FileDisk{file: f, blocks: blocks, sync: true}, nil
}

// OpenFile opens an existing image file or block device read-write
func OpenFile(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open image %s: %w", path, err)
	}
	size, err := deviceSize(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if size%BlockSize != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("image %s size %d is not a multiple of the block size %d", path, size, BlockSize)
	}
	return &FileDisk{file: f, blocks: uint32(size / BlockSize), sync: true}, nil
}

// deviceSize returns the size in bytes of a regular file or block device
func deviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("could not stat %s: %w", f.Name(), err)
	}
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), nil
	}
	logical, _, err := getSectorSizes(f)
	if err != nil {
		return 0, err
	}
	if BlockSize%logical != 0 {
		return 0, fmt.Errorf("device %s logical sector size %d does not divide the block size %d", f.Name(), logical, BlockSize)
	}
	return getBlockDeviceSize(f)
}

// SetSync controls whether each write is flushed before returning. Tools that
// rebuild a whole image turn it off and call Sync once at the end.
func (d *FileDisk) SetSync(on bool) {
	d.mu.Lock()
	d.sync = on
	d.mu.Unlock()
}

// Synced reports whether each write is flushed before returning
func (d *FileDisk) Synced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sync
}

func (d *FileDisk) ReadBlock(n uint32, b []byte) error {
	if err := checkBlock(d, n, b); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	read, err := d.file.ReadAt(b, int64(n)*BlockSize)
	if err != nil {
		return fmt.Errorf("failed to read block %d: %w", n, err)
	}
	if read != BlockSize {
		return fmt.Errorf("read %d bytes for block %d instead of %d", read, n, BlockSize)
	}
	return nil
}

func (d *FileDisk) WriteBlock(n uint32, b []byte) error {
	if err := checkBlock(d, n, b); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	wrote, err := d.file.WriteAt(b, int64(n)*BlockSize)
	if err != nil {
		return fmt.Errorf("failed to write block %d: %w", n, err)
	}
	if wrote != BlockSize {
		return fmt.Errorf("wrote %d bytes for block %d instead of %d", wrote, n, BlockSize)
	}
	if d.sync {
		return syncData(d.file)
	}
	return nil
}

func (d *FileDisk) Blocks() uint32 {
	return d.blocks
}

// Sync flushes all outstanding writes
func (d *FileDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return syncData(d.file)
}

// Name is the path the disk was opened from
func (d *FileDisk) Name() string {
	return d.file.Name()
}

func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := syncData(d.file); err != nil {
		return err
	}
	return d.file.Close()
}
