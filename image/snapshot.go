package image

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"
)

const (
	// CodecAttr is the extended attribute recording a snapshot's codec
	CodecAttr = "user.xkfs.codec"

	magic      = "XKSNAP01"
	codecField = 8
	headerSize = len(magic) + codecField + 4
)

// header is the uncompressed prefix of a snapshot file
type header struct {
	codec  Codec
	blocks uint32
}

func (h *header) toBytes() []byte {
	b := make([]byte, headerSize)
	copy(b, magic)
	copy(b[len(magic):len(magic)+codecField], h.codec)
	binary.LittleEndian.PutUint32(b[len(magic)+codecField:], h.blocks)
	return b
}

func headerFromBytes(b []byte) (*header, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("snapshot of %d bytes is shorter than its header", len(b))
	}
	if string(b[:len(magic)]) != magic {
		return nil, fmt.Errorf("not a snapshot: bad magic %q", b[:len(magic)])
	}
	codec := strings.TrimRight(string(b[len(magic):len(magic)+codecField]), "\x00")
	return &header{
		codec:  Codec(codec),
		blocks: binary.LittleEndian.Uint32(b[len(magic)+codecField:]),
	}, nil
}

// Snapshot writes every block of dev, compressed with codec, to the file at path
func Snapshot(dev backend.Storage, path string, codec Codec) error {
	c, err := NewCompressor(codec)
	if err != nil {
		return err
	}
	raw := make([]byte, int(dev.Blocks())*backend.BlockSize)
	for n := uint32(0); n < dev.Blocks(); n++ {
		off := int(n) * backend.BlockSize
		if err := dev.ReadBlock(n, raw[off:off+backend.BlockSize]); err != nil {
			return fmt.Errorf("could not read block %d: %w", n, err)
		}
	}
	payload, err := c.compress(raw)
	if err != nil {
		return err
	}
	h := header{codec: c.Codec(), blocks: dev.Blocks()}
	if err := os.WriteFile(path, append(h.toBytes(), payload...), 0o644); err != nil {
		return fmt.Errorf("could not write snapshot %s: %w", path, err)
	}
	// not every file system carries user attributes; the header is authoritative
	if err := xattr.Set(path, CodecAttr, []byte(c.Codec())); err != nil {
		log.Debugf("snapshot: could not tag %s: %v", path, err)
	}
	log.Infof("snapshot: %d blocks to %s with %s, %d bytes", dev.Blocks(), path, c.Codec(), len(payload))
	return nil
}

// Restore loads a snapshot into a RAM disk
func Restore(path string) (*backend.RAMDisk, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read snapshot %s: %w", path, err)
	}
	h, err := headerFromBytes(b)
	if err != nil {
		return nil, err
	}
	if tag, err := xattr.Get(path, CodecAttr); err == nil && Codec(tag) != h.codec {
		return nil, fmt.Errorf("snapshot %s is tagged %q but its header says %q", path, tag, h.codec)
	}
	c, err := NewCompressor(h.codec)
	if err != nil {
		return nil, err
	}
	raw, err := c.decompress(b[headerSize:])
	if err != nil {
		return nil, err
	}
	if want := int(h.blocks) * backend.BlockSize; len(raw) != want {
		return nil, fmt.Errorf("snapshot holds %d bytes, header promises %d", len(raw), want)
	}
	return backend.RAMDiskFromBytes(raw)
}

// CodecOf reports the codec of a snapshot file, preferring its extended attribute
func CodecOf(path string) (Codec, error) {
	if tag, err := xattr.Get(path, CodecAttr); err == nil {
		return Codec(tag), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(f, b); err != nil {
		return "", fmt.Errorf("could not read snapshot header: %w", err)
	}
	h, err := headerFromBytes(b)
	if err != nil {
		return "", err
	}
	return h.codec, nil
}
