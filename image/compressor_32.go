//go:build arm || 386

// the xz and lzma packages are not built for 32 bit targets
package image

import (
	"fmt"
)

func unsupported(c Codec) error {
	return fmt.Errorf("codec %s is not supported on 32 bit systems", c)
}

func (c *CompressorLzma) compress(in []byte) ([]byte, error) {
	return nil, unsupported(CodecLzma)
}
func (c *CompressorLzma) decompress(in []byte) ([]byte, error) {
	return nil, unsupported(CodecLzma)
}

func (c *CompressorXz) compress(in []byte) ([]byte, error) {
	return nil, unsupported(CodecXz)
}
func (c *CompressorXz) decompress(in []byte) ([]byte, error) {
	return nil, unsupported(CodecXz)
}
