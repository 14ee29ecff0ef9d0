package xkfs

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotwutingfeng/asciiset"
)

// nameChars are the characters allowed in a directory entry name
var nameChars = func() asciiset.ASCIISet {
	var chars []byte
	for c := byte(0x20); c < 0x7f; c++ {
		if c != '/' {
			chars = append(chars, c)
		}
	}
	set, _ := asciiset.MakeASCIISet(string(chars))
	return set
}()

// directoryEntry is a single 16 byte directory entry. An inode number of 0 marks a free entry.
type directoryEntry struct {
	inum     uint16
	filename string
}

func (de *directoryEntry) equal(other *directoryEntry) bool {
	return de.inum == other.inum && de.filename == other.filename
}

func (de *directoryEntry) free() bool {
	return de.inum == 0
}

func (de *directoryEntry) toBytes() []byte {
	b := make([]byte, DirentSize)
	binary.LittleEndian.PutUint16(b[0x0:0x2], de.inum)
	copy(b[0x2:0x2+DirNameSize], de.filename)
	return b
}

func directoryEntryFromBytes(b []byte) (*directoryEntry, error) {
	de := directoryEntry{}
	offset, err := toUint16(b, 0, &de.inum)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize inode: %w", err)
	}
	if _, err = toName(b, offset, DirNameSize, &de.filename); err != nil {
		return nil, fmt.Errorf("failed to deserialize file name: %w", err)
	}
	return &de, nil
}

// validateName checks a name for use in a directory entry
func validateName(name string) error {
	if name == "" || len(name) > DirNameSize {
		return fmt.Errorf("%w: %q must be 1 to %d characters", ErrInvalidName, name, DirNameSize)
	}
	for i := 0; i < len(name); i++ {
		if !nameChars.Contains(name[i]) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, name[i])
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// namesEqual compares names the way they are stored, up to DirNameSize bytes
func namesEqual(a, b string) bool {
	if len(a) > DirNameSize {
		a = a[:DirNameSize]
	}
	if len(b) > DirNameSize {
		b = b[:DirNameSize]
	}
	return a == b
}
