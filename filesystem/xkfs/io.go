package xkfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

func toUint32(b []byte, start int, to *uint32) (int, error) {
	if len(b) < start+4 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.EOF, start+4, len(b))
	}
	*to = binary.LittleEndian.Uint32(b[start:])
	return start + 4, nil
}

func toUint16(b []byte, start int, to *uint16) (int, error) {
	if len(b) < start+2 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.EOF, start+2, len(b))
	}
	*to = binary.LittleEndian.Uint16(b[start:])
	return start + 2, nil
}

func toInt16(b []byte, start int, to *int16) (int, error) {
	var u uint16
	next, err := toUint16(b, start, &u)
	if err != nil {
		return 0, err
	}
	*to = int16(u)
	return next, nil
}

// toName reads a fixed width, NUL padded name
func toName(b []byte, start, length int, to *string) (int, error) {
	if len(b) < start+length {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.EOF, start+length, len(b))
	}
	raw := b[start : start+length]
	end := 0
	for end < length && raw[end] != 0 {
		end++
	}
	*to = string(raw[:end])
	return start + length, nil
}

func putInt16(b []byte, v int16) {
	binary.LittleEndian.PutUint16(b, uint16(v))
}
