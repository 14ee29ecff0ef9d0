// Package image saves and restores compressed snapshots of xkfs disk images.
package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a compression format
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
	CodecLz4  Codec = "lz4"
	CodecXz   Codec = "xz"
	CodecLzma Codec = "lzma"
)

// Codecs lists every supported codec
var Codecs = []Codec{CodecNone, CodecGzip, CodecZstd, CodecLz4, CodecXz, CodecLzma}

// Compressor compresses and decompresses whole images
type Compressor interface {
	compress(in []byte) ([]byte, error)
	decompress(in []byte) ([]byte, error)
	Codec() Codec
}

type CompressorNone struct{}
type CompressorGzip struct{}
type CompressorZstd struct{}
type CompressorLz4 struct{}
type CompressorXz struct{}
type CompressorLzma struct{}

func (c *CompressorNone) Codec() Codec { return CodecNone }
func (c *CompressorGzip) Codec() Codec { return CodecGzip }
func (c *CompressorZstd) Codec() Codec { return CodecZstd }
func (c *CompressorLz4) Codec() Codec  { return CodecLz4 }
func (c *CompressorXz) Codec() Codec   { return CodecXz }
func (c *CompressorLzma) Codec() Codec { return CodecLzma }

// NewCompressor returns the compressor for a codec
func NewCompressor(c Codec) (Compressor, error) {
	switch c {
	case CodecNone, "":
		return &CompressorNone{}, nil
	case CodecGzip:
		return &CompressorGzip{}, nil
	case CodecZstd:
		return &CompressorZstd{}, nil
	case CodecLz4:
		return &CompressorLz4{}, nil
	case CodecXz:
		return &CompressorXz{}, nil
	case CodecLzma:
		return &CompressorLzma{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", c)
	}
}

// compressStream runs in through a streaming compressor
func compressStream(name string, in []byte, newWriter func(w io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var b bytes.Buffer
	w, err := newWriter(&b)
	if err != nil {
		return nil, fmt.Errorf("error creating %s compressor: %w", name, err)
	}
	if _, err := w.Write(in); err != nil {
		return nil, fmt.Errorf("error compressing with %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("error finishing %s stream: %w", name, err)
	}
	return b.Bytes(), nil
}

// decompressStream reads in to the end through a streaming decompressor
func decompressStream(name string, in []byte, newReader func(r io.Reader) (io.Reader, error)) ([]byte, error) {
	r, err := newReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("error creating %s decompressor: %w", name, err)
	}
	p, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error decompressing %s: %w", name, err)
	}
	return p, nil
}

func (c *CompressorNone) compress(in []byte) ([]byte, error) {
	return in, nil
}
func (c *CompressorNone) decompress(in []byte) ([]byte, error) {
	return in, nil
}

func (c *CompressorGzip) compress(in []byte) ([]byte, error) {
	return compressStream("gzip", in, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	})
}
func (c *CompressorGzip) decompress(in []byte) ([]byte, error) {
	return decompressStream("gzip", in, func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	})
}

// zstd works on whole buffers, the image is already in memory
func (c *CompressorZstd) compress(in []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd compressor: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(in, nil), nil
}
func (c *CompressorZstd) decompress(in []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd decompressor: %w", err)
	}
	defer dec.Close()
	p, err := dec.DecodeAll(in, nil)
	if err != nil {
		return nil, fmt.Errorf("error decompressing zstd: %w", err)
	}
	return p, nil
}

func (c *CompressorLz4) compress(in []byte) ([]byte, error) {
	return compressStream("lz4", in, func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
}
func (c *CompressorLz4) decompress(in []byte) ([]byte, error) {
	return decompressStream("lz4", in, func(r io.Reader) (io.Reader, error) {
		return lz4.NewReader(r), nil
	})
}
