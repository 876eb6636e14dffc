// Package pl2 owns the transport envelope: the 32-bit little-endian length
// prefix that wraps every PL1 payload crossing the wire.
//
// Ownership boundary:
// - length-prefix encode/decode
// - the size bounds a length value must satisfy to be accepted
package pl2

import (
	"encoding/binary"
	"errors"
)

// LengthSize is the width of the PL2 length word itself, in bytes.
const LengthSize = 4

// MinPacketSize is the smallest legal PL2 packet: the length word plus one
// 4-byte PL1 header, the floor the wire format itself enforces independent
// of PL1 shape.
const MinPacketSize = 8

// DefaultMaxPacketSize is the protocol ceiling from §6; a negotiated
// ConInfo may advertise a smaller working maximum, checked separately by
// the caller.
const DefaultMaxPacketSize = 65544

var (
	// ErrLengthNotMultipleOf4 indicates the length word failed the %4==0
	// check mandated by §4.1.
	ErrLengthNotMultipleOf4 = errors.New("pl2: length not a multiple of 4")
	// ErrLengthOutOfBounds indicates the length word fell outside
	// [MinPacketSize, maxBytes].
	ErrLengthOutOfBounds = errors.New("pl2: length out of bounds")
)

// EncodeLengthPrefix returns the 4-byte little-endian PL2 length word for a
// packet whose PL1 payload is payloadLen bytes; the length word covers
// itself, so the encoded value is payloadLen+LengthSize.
func EncodeLengthPrefix(payloadLen int) []byte {
	var buf [LengthSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(payloadLen+LengthSize))
	return buf[:]
}

// DecodeLengthPrefix reads the 4-byte little-endian PL2 length word.
func DecodeLengthPrefix(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// ValidateLength enforces §4.1's receive-loop rule:
// length % 4 == 0 && 8 <= length <= maxBytes.
func ValidateLength(length uint32, maxBytes uint32) error {
	if length%4 != 0 {
		return ErrLengthNotMultipleOf4
	}
	if length < MinPacketSize || length > maxBytes {
		return ErrLengthOutOfBounds
	}
	return nil
}
