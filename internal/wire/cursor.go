package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by any Take* call that would read past the end
// of the underlying buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// Cursor is a bounds-checked little-endian reader over a byte slice it does
// not own. Every typed Take method advances the read position by exactly
// the field's wire width or returns ErrShortBuffer without advancing.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential typed reads starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

func (c *Cursor) TakeU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) TakeU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v, nil
}

func (c *Cursor) TakeU32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *Cursor) TakeU64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v, nil
}

// TakeBytes returns a copy of the next n bytes.
func (c *Cursor) TakeBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[c.pos:c.pos+n])
	c.pos += n
	return out, nil
}

// TakeFixedASCII reads width bytes and returns the portion before the first
// zero byte (or the full width if unterminated) as a string.
func (c *Cursor) TakeFixedASCII(width int) (string, error) {
	raw, err := c.TakeBytes(width)
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}

// Skip advances the read position by n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}
