// Package console is the console character device. It reads input a line at
// a time and writes output straight through.
package console

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/diskfs/go-xkfs/filesystem/xkfs"
)

// Console adapts a host reader and writer to the device switch
type Console struct {
	rmu sync.Mutex
	in  *bufio.Reader

	wmu sync.Mutex
	out io.Writer
}

// New creates a console reading from in and writing to out
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Register installs the console as the console device
func (c *Console) Register(d *xkfs.Devices) error {
	return d.Register(xkfs.ConsoleDev, c)
}

// Read returns up to len(dst) bytes, stopping after a newline. It returns 0
// once input is exhausted.
func (c *Console) Read(dst []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	n := 0
	for n < len(dst) {
		b, err := c.in.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		dst[n] = b
		n++
		if b == '\n' {
			break
		}
	}
	return n, nil
}

// Write copies src to the output
func (c *Console) Write(src []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.out.Write(src)
}
