// Package backend provides the block devices a file system image lives on.
//
// A Storage reads and writes whole blocks synchronously. The file system never
// caches blocks itself, so every ReadBlock observes the latest WriteBlock.
package backend

import (
	"errors"
	"fmt"
)

// BlockSize is the size in bytes of every block a Storage hands out.
const BlockSize = 512

var (
	// ErrOutOfRange is returned when a block number lies past the end of the device
	ErrOutOfRange = errors.New("block out of range")
	// ErrShortBuffer is returned when the caller's buffer is not exactly one block
	ErrShortBuffer = errors.New("buffer is not one block long")
)

// Storage is the raw block device collaborator.
type Storage interface {
	// ReadBlock fills b with the content of block n
	ReadBlock(n uint32, b []byte) error
	// WriteBlock stores b as the content of block n. When it returns, the write is durable.
	WriteBlock(n uint32, b []byte) error
	// Blocks is the number of blocks on the device
	Blocks() uint32
	Close() error
}

func checkBlock(s Storage, n uint32, b []byte) error {
	if n >= s.Blocks() {
		return fmt.Errorf("%w: block %d, device has %d blocks", ErrOutOfRange, n, s.Blocks())
	}
	if len(b) != BlockSize {
		return fmt.Errorf("%w: got %d bytes", ErrShortBuffer, len(b))
	}
	return nil
}
