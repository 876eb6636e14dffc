package pl0

import (
	"errors"
	"fmt"

	"github.com/plbridge/plclient/internal/wire"
)

// HeaderSize is the fixed {wl, cmd, param} micro-op header width, in bytes.
const HeaderSize = 4

// ErrPayloadTooLarge is returned when encoding a payload that cannot be
// expressed by a single micro-op's wl field.
var ErrPayloadTooLarge = errors.New("pl0: payload exceeds micro-op capacity")

// MicroOp is one PL0 primitive: a control op (access-mode/address-map/
// base-addr) or a memory-access op (rd/wr/wrblk/fill/rdblk/rdblk1kb).
//
// WL is carried explicitly rather than derived from len(Payload): a block
// read has no payload of its own but still needs to convey how many bytes
// the device should return.
type MicroOp struct {
	Op      Op
	Param   uint16
	WL      uint8
	Payload []byte
}

// Encode appends m to b in wire form: {wl, cmd, param} then payload.
func (m MicroOp) Encode(b *wire.Builder) error {
	if len(m.Payload) > MaxBlockBytes || (!IsBlockOp(m.Op) && len(m.Payload) > 255) {
		return fmt.Errorf("%w: op=%s len=%d", ErrPayloadTooLarge, m.Op, len(m.Payload))
	}
	b.PutU8(m.WL)
	b.PutU8(uint8(m.Op))
	b.PutU16(m.Param)
	b.PutBytes(m.Payload)
	return nil
}

// Decode reads one micro-op from c, resolving the payload length from wl
// per the op's sentinel convention; read ops carry no request payload.
func Decode(c *wire.Cursor) (MicroOp, error) {
	wl, err := c.TakeU8()
	if err != nil {
		return MicroOp{}, err
	}
	opByte, err := c.TakeU8()
	if err != nil {
		return MicroOp{}, err
	}
	param, err := c.TakeU16()
	if err != nil {
		return MicroOp{}, err
	}
	op := Op(opByte)
	n := 0
	if !IsReadOp(op) {
		n = PayloadLen(op, wl)
	}
	payload, err := c.TakeBytes(n)
	if err != nil {
		return MicroOp{}, err
	}
	return MicroOp{Op: op, Param: param, WL: wl, Payload: payload}, nil
}

// AccessMode builds an access-mode control micro-op; mode is carried
// directly in the param field, with no trailing payload.
func AccessMode(mode uint16) MicroOp {
	return MicroOp{Op: OpAccessMode, Param: mode}
}

// AddressMap builds an address-map control micro-op; the map number
// occupies the low byte of the param field.
func AddressMap(mapNum uint8) MicroOp {
	return MicroOp{Op: OpAddressMap, Param: uint16(mapNum)}
}

// BaseAddr32 builds a 32-bit base-address control micro-op.
func BaseAddr32(base uint32) MicroOp {
	b := wire.NewBuilder(4)
	b.PutU32(base)
	payload := b.Bytes()
	return MicroOp{Op: OpBaseAddr32, WL: EncodeWL(OpBaseAddr32, len(payload)), Payload: payload}
}

// BaseAddr64 builds a 64-bit base-address control micro-op.
func BaseAddr64(base uint64) MicroOp {
	b := wire.NewBuilder(8)
	b.PutU64(base)
	payload := b.Bytes()
	return MicroOp{Op: OpBaseAddr64, WL: EncodeWL(OpBaseAddr64, len(payload)), Payload: payload}
}

// Read builds a fixed-width register read micro-op for one of
// rd8/rd16/rd32/rd64; loAddr is the offset from the active base address.
func Read(op Op, loAddr uint16) (MicroOp, error) {
	if RegisterOpSize(op) == 0 || !IsReadOp(op) {
		return MicroOp{}, fmt.Errorf("pl0: %s is not a register read op", op)
	}
	return MicroOp{Op: op, Param: loAddr}, nil
}

// Write builds a fixed-width register write micro-op for one of
// wr8/wr16/wr32/wr64; value must be exactly RegisterOpSize(op) bytes.
func Write(op Op, loAddr uint16, value []byte) (MicroOp, error) {
	size := RegisterOpSize(op)
	if size == 0 || !IsWriteOp(op) {
		return MicroOp{}, fmt.Errorf("pl0: %s is not a register write op", op)
	}
	if len(value) != size {
		return MicroOp{}, fmt.Errorf("pl0: %s needs %d value bytes, got %d", op, size, len(value))
	}
	return MicroOp{Op: op, Param: loAddr, WL: EncodeWL(op, len(value)), Payload: value}, nil
}

// ReadBlock builds a block read request for n bytes (rdblk1kb when n is a
// full 1024-byte block, rdblk otherwise); reads carry no request payload.
func ReadBlock(loAddr uint16, n int) (MicroOp, error) {
	if n <= 0 || n > MaxBlockBytes || n%8 != 0 {
		return MicroOp{}, fmt.Errorf("pl0: invalid block length %d", n)
	}
	op := OpRdBlk
	if n == MaxBlockBytes {
		op = OpRdBlk1KB
	}
	return MicroOp{Op: op, Param: loAddr, WL: EncodeWL(op, n)}, nil
}

// WriteBlock builds a wrblk micro-op carrying data (8..1024 bytes, a
// multiple of 8).
func WriteBlock(loAddr uint16, data []byte) (MicroOp, error) {
	if len(data) == 0 || len(data) > MaxBlockBytes || len(data)%8 != 0 {
		return MicroOp{}, fmt.Errorf("pl0: invalid block length %d", len(data))
	}
	return MicroOp{Op: OpWrBlk, Param: loAddr, WL: EncodeWL(OpWrBlk, len(data)), Payload: data}, nil
}

// fillBodySize is the fixed wire body of a fill micro-op: wlwr (1 byte) +
// 3 reserved bytes + the 8-byte pattern, independent of the fill extent.
const fillBodySize = 12

// Fill builds a fill micro-op covering n bytes (a multiple of 8, up to
// MaxBlockBytes) starting at loAddr. Unlike WriteBlock, the pattern is not
// expanded on the wire: the body is a fixed 12 bytes carrying the extent as
// a word count (wlwr, 0 meaning 256 words/1024 bytes) followed by the
// 8-byte pattern once.
func Fill(loAddr uint16, pattern [8]byte, n int) (MicroOp, error) {
	if n <= 0 || n > MaxBlockBytes || n%8 != 0 {
		return MicroOp{}, fmt.Errorf("pl0: invalid fill length %d", n)
	}
	b := wire.NewBuilder(fillBodySize)
	b.PutU8(fillWordCount(n))
	b.PutZeroes(3)
	b.PutBytes(pattern[:])
	payload := b.Bytes()
	return MicroOp{Op: OpFill, Param: loAddr, WL: EncodeWL(OpFill, len(payload)), Payload: payload}, nil
}

// fillWordCount encodes a fill extent as a count of 4-byte words, with 0 as
// the sentinel for a full 1024-byte (256-word) extent.
func fillWordCount(n int) uint8 {
	if n == MaxBlockBytes {
		return 0
	}
	return uint8(n / 4)
}
