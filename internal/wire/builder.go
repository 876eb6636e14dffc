// Package wire owns the little-endian byte-level primitives shared by the
// PL2/PL1/PL0 codecs.
//
// Ownership boundary:
// - append-only encode (Builder)
// - bounds-checked decode (Cursor)
//
// Neither type touches PL-layer semantics; they exist so pl2/pl1/pl0 never
// perform raw pointer arithmetic into a shared buffer.
package wire

import "encoding/binary"

// Builder is an append-only little-endian byte buffer. Every typed Put
// method grows the buffer by exactly the field's wire width.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder with capacity pre-reserved for size bytes.
func NewBuilder(size int) *Builder {
	if size < 0 {
		size = 0
	}
	return &Builder{buf: make([]byte, 0, size)}
}

func (b *Builder) PutU8(v uint8) { b.buf = append(b.buf, v) }

func (b *Builder) PutU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Builder) PutU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Builder) PutU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Builder) PutBytes(v []byte) { b.buf = append(b.buf, v...) }

// PutZeroes appends n zero bytes, used for fixed-size zero-terminated ASCII
// identifier fields that are shorter than their wire width.
func (b *Builder) PutZeroes(n int) {
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
}

// PutFixedASCII writes s truncated/zero-padded to exactly width bytes.
func (b *Builder) PutFixedASCII(s string, width int) {
	n := len(s)
	if n > width {
		n = width
	}
	b.buf = append(b.buf, []byte(s[:n])...)
	b.PutZeroes(width - n)
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the accumulated buffer. The caller must not mutate it.
func (b *Builder) Bytes() []byte { return b.buf }
