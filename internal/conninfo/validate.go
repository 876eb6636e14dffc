package conninfo

import (
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl2"
)

const (
	minPL2Size          = 128
	maxChannelMsgLength = 1024
)

// Validate enforces §4.3 rule 5: both PL2 size maxima are multiples of 4
// within [128, 65544], and both channel message length maxima are
// multiples of 4 and at most 1024 bytes. A session-start/ping response
// that fails this is a protocol error, not a parameter error: the peer,
// not the caller, produced the bad value.
func Validate(c ConInfo) error {
	if !validPL2Size(c.MaxReqPL2Size) {
		return errkind.Newf(errkind.ServerConnection, "conninfo.Validate", "max request pl2 size %d out of bounds", c.MaxReqPL2Size)
	}
	if !validPL2Size(c.MaxRspPL2Size) {
		return errkind.Newf(errkind.ServerConnection, "conninfo.Validate", "max response pl2 size %d out of bounds", c.MaxRspPL2Size)
	}
	if !validChannelLength(c.MsgLengthC2D) {
		return errkind.Newf(errkind.ServerConnection, "conninfo.Validate", "c2d message length %d invalid", c.MsgLengthC2D)
	}
	if !validChannelLength(c.MsgLengthD2C) {
		return errkind.Newf(errkind.ServerConnection, "conninfo.Validate", "d2c message length %d invalid", c.MsgLengthD2C)
	}
	return nil
}

func validPL2Size(n uint32) bool {
	return n%4 == 0 && n >= minPL2Size && n <= pl2.DefaultMaxPacketSize
}

func validChannelLength(n uint32) bool {
	return n%4 == 0 && n <= maxChannelMsgLength
}
