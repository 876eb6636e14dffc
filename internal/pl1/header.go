package pl1

import (
	"github.com/plbridge/plclient/internal/wire"
)

// HeaderSize is the fixed PL1 header width in bytes: wl, cmd, con_id, and
// either param (request) or err (response).
const HeaderSize = 4

// RequestHeader is the 4-byte PL1 request header.
type RequestHeader struct {
	WL    uint8
	Cmd   Command
	ConID uint8
	Param uint8
}

// ResponseHeader is the 4-byte PL1 response header; the last slot the
// request calls Param holds the wire error code on a response.
type ResponseHeader struct {
	WL    uint8
	Cmd   Command
	ConID uint8
	Err   ErrCode
}

// EncodeRequestHeader writes h's 4 bytes via b.
func EncodeRequestHeader(b *wire.Builder, h RequestHeader) {
	b.PutU8(h.WL)
	b.PutU8(uint8(h.Cmd))
	b.PutU8(h.ConID)
	b.PutU8(h.Param)
}

// DecodeResponseHeader reads a 4-byte PL1 response header from c.
func DecodeResponseHeader(c *wire.Cursor) (ResponseHeader, error) {
	wl, err := c.TakeU8()
	if err != nil {
		return ResponseHeader{}, err
	}
	cmd, err := c.TakeU8()
	if err != nil {
		return ResponseHeader{}, err
	}
	conID, err := c.TakeU8()
	if err != nil {
		return ResponseHeader{}, err
	}
	errByte, err := c.TakeU8()
	if err != nil {
		return ResponseHeader{}, err
	}
	return ResponseHeader{WL: wl, Cmd: Command(cmd), ConID: conID, Err: ErrCode(errByte)}, nil
}

// BodyWordLen converts a body byte length (excluding the header word
// itself) into the wl field: word-length of the body, word = 4 bytes.
func BodyWordLen(bodyBytes int) uint8 {
	return uint8(bodyBytes / 4)
}
