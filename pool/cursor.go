// File: pool/cursor.go
// Author: momentics <momentics@gmail.com>
//
// Bounds-checked fixed-offset access to FIFO regions. Wire layout is
// little-endian, matching the packet framing carried over the sessions.

package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for any access past the region end.
var ErrOutOfRange = errors.New("pool: offset out of range")

func rangeErr(off, n, size int) error {
	return fmt.Errorf("%w: [%d:%d] of %d", ErrOutOfRange, off, off+n, size)
}

// Reader reads scalars at offsets inside an unread region.
type Reader struct {
	b []byte
}

// NewReader wraps b.
func NewReader(b []byte) Reader { return Reader{b: b} }

// Len returns the region length.
func (r Reader) Len() int { return len(r.b) }

func (r Reader) span(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(r.b) {
		return nil, rangeErr(off, n, len(r.b))
	}
	return r.b[off : off+n], nil
}

// U8 reads a byte at off.
func (r Reader) U8(off int) (uint8, error) {
	p, err := r.span(off, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// U16 reads a little-endian uint16 at off.
func (r Reader) U16(off int) (uint16, error) {
	p, err := r.span(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// U32 reads a little-endian uint32 at off.
func (r Reader) U32(off int) (uint32, error) {
	p, err := r.span(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// U64 reads a little-endian uint64 at off.
func (r Reader) U64(off int) (uint64, error) {
	p, err := r.span(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// Bytes returns n bytes at off without copying.
func (r Reader) Bytes(off, n int) ([]byte, error) {
	return r.span(off, n)
}

// String reads a fixed-width field and trims it at the first NUL.
func (r Reader) String(off, n int) (string, error) {
	p, err := r.span(off, n)
	if err != nil {
		return "", err
	}
	for i, c := range p {
		if c == 0 {
			return string(p[:i]), nil
		}
	}
	return string(p), nil
}

// Writer writes scalars at offsets inside a reserved write region.
type Writer struct {
	b []byte
}

// NewWriter wraps b.
func NewWriter(b []byte) Writer { return Writer{b: b} }

// Len returns the region length.
func (w Writer) Len() int { return len(w.b) }

func (w Writer) span(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(w.b) {
		return nil, rangeErr(off, n, len(w.b))
	}
	return w.b[off : off+n], nil
}

// PutU8 writes a byte at off.
func (w Writer) PutU8(off int, v uint8) error {
	p, err := w.span(off, 1)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

// PutU16 writes a little-endian uint16 at off.
func (w Writer) PutU16(off int, v uint16) error {
	p, err := w.span(off, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p, v)
	return nil
}

// PutU32 writes a little-endian uint32 at off.
func (w Writer) PutU32(off int, v uint32) error {
	p, err := w.span(off, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p, v)
	return nil
}

// PutU64 writes a little-endian uint64 at off.
func (w Writer) PutU64(off int, v uint64) error {
	p, err := w.span(off, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p, v)
	return nil
}

// PutBytes copies src at off.
func (w Writer) PutBytes(off int, src []byte) error {
	p, err := w.span(off, len(src))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

// PutString writes s into an n-byte field, NUL padded. s is truncated to n.
func (w Writer) PutString(off int, s string, n int) error {
	p, err := w.span(off, n)
	if err != nil {
		return err
	}
	c := copy(p, s)
	clear(p[c:])
	return nil
}
