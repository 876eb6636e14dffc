// Package pl0 owns the memory-access micro-op layer: the individual
// access-mode/address-map/base-address/read/write/fill primitives that are
// batched inside one pl0-start/pl0-end pair.
//
// Ownership boundary:
// - micro-op opcode constants
// - micro-op header encode/decode
// - the wl-field byte-length convention, including the one spec-mandated
//   256-word sentinel for full 1024-byte block payloads
package pl0

// Op identifies a PL0 micro-op. Values match the wire opcode byte.
type Op uint8

const (
	OpAccessMode Op = 0x10
	OpAddressMap Op = 0x11
	OpBaseAddr32 Op = 0x15
	OpBaseAddr64 Op = 0x16

	OpWr8  Op = 0x20
	OpRd8  Op = 0x21
	OpWr16 Op = 0x22
	OpRd16 Op = 0x23
	OpWr32 Op = 0x24
	OpRd32 Op = 0x25
	OpWr64 Op = 0x26
	OpRd64 Op = 0x27

	OpWrBlk    Op = 0x2A
	OpFill     Op = 0x2B
	OpRdBlk    Op = 0x2C
	OpRdBlk1KB Op = 0x2D
)

func (o Op) String() string {
	switch o {
	case OpAccessMode:
		return "access-mode"
	case OpAddressMap:
		return "address-map"
	case OpBaseAddr32:
		return "base-addr32"
	case OpBaseAddr64:
		return "base-addr64"
	case OpWr8:
		return "wr8"
	case OpRd8:
		return "rd8"
	case OpWr16:
		return "wr16"
	case OpRd16:
		return "rd16"
	case OpWr32:
		return "wr32"
	case OpRd32:
		return "rd32"
	case OpWr64:
		return "wr64"
	case OpRd64:
		return "rd64"
	case OpWrBlk:
		return "wrblk"
	case OpFill:
		return "fill"
	case OpRdBlk:
		return "rdblk"
	case OpRdBlk1KB:
		return "rdblk1kb"
	default:
		return "unknown"
	}
}

// MaxBlockBytes is the largest payload a single block-type micro-op
// (wrblk/fill/rdblk/rdblk1kb) may carry.
const MaxBlockBytes = 1024

// IsBlockOp reports whether o is one of the four block-transfer opcodes,
// the only ones for which wl=0 is a sentinel rather than a literal
// zero-length payload.
func IsBlockOp(o Op) bool {
	switch o {
	case OpWrBlk, OpFill, OpRdBlk, OpRdBlk1KB:
		return true
	default:
		return false
	}
}

// PayloadLen resolves wl to an actual byte count for op o. For the four
// block ops, wl counts 4-byte words (so a single byte can span the whole
// 0..1020-byte range), with wl=0 as the spec-mandated sentinel for a full
// 1024-byte (256-word) payload — the one size a uint8 word count cannot
// otherwise reach. Every other op's wl is the raw payload byte length.
func PayloadLen(op Op, wl uint8) int {
	if IsBlockOp(op) {
		if wl == 0 {
			return MaxBlockBytes
		}
		return int(wl) * 4
	}
	return int(wl)
}

// EncodeWL computes the wl byte for a payload of n bytes on op, inverting
// PayloadLen.
func EncodeWL(op Op, n int) uint8 {
	if IsBlockOp(op) {
		if n == MaxBlockBytes {
			return 0
		}
		return uint8(n / 4)
	}
	return uint8(n)
}

// IsReadOp reports whether o reads device memory.
func IsReadOp(o Op) bool {
	switch o {
	case OpRd8, OpRd16, OpRd32, OpRd64, OpRdBlk, OpRdBlk1KB:
		return true
	default:
		return false
	}
}

// IsWriteOp reports whether o writes device memory.
func IsWriteOp(o Op) bool {
	switch o {
	case OpWr8, OpWr16, OpWr32, OpWr64, OpWrBlk, OpFill:
		return true
	default:
		return false
	}
}

// RegisterOpSize returns the fixed byte width of a non-block rd/wr op, or 0
// if o is not one of them.
func RegisterOpSize(o Op) int {
	switch o {
	case OpWr8, OpRd8:
		return 1
	case OpWr16, OpRd16:
		return 2
	case OpWr32, OpRd32:
		return 4
	case OpWr64, OpRd64:
		return 8
	default:
		return 0
	}
}
