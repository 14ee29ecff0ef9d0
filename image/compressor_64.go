//go:build !arm && !386

package image

import (
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

func (c *CompressorLzma) compress(in []byte) ([]byte, error) {
	return compressStream("lzma", in, func(w io.Writer) (io.WriteCloser, error) {
		return lzma.NewWriter(w)
	})
}
func (c *CompressorLzma) decompress(in []byte) ([]byte, error) {
	return decompressStream("lzma", in, func(r io.Reader) (io.Reader, error) {
		return lzma.NewReader(r)
	})
}

func (c *CompressorXz) compress(in []byte) ([]byte, error) {
	return compressStream("xz", in, func(w io.Writer) (io.WriteCloser, error) {
		return xz.NewWriterConfig(w, xz.WriterConfig{Workers: 2})
	})
}
func (c *CompressorXz) decompress(in []byte) ([]byte, error) {
	return decompressStream("xz", in, func(r io.Reader) (io.Reader, error) {
		return xz.NewReader(r)
	})
}
